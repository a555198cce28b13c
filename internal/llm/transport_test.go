package llm

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestProxyFunc(t *testing.T) {
	proxy := proxyFunc("http://proxy.internal:3128", "http://secure-proxy.internal:3128")

	req := &http.Request{URL: &url.URL{Scheme: "https", Host: "api.openai.com"}}
	got, err := proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if got.Host != "secure-proxy.internal:3128" {
		t.Errorf("https proxy = %s, want secure-proxy.internal:3128", got.Host)
	}

	req = &http.Request{URL: &url.URL{Scheme: "http", Host: "localhost:11434"}}
	got, err = proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if got.Host != "proxy.internal:3128" {
		t.Errorf("http proxy = %s, want proxy.internal:3128", got.Host)
	}
}

func TestNewHTTPClientRoutesThroughProxy(t *testing.T) {
	var hits int
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Host != "backend.invalid" {
			t.Errorf("proxied host = %s, want backend.invalid", r.URL.Host)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer proxy.Close()

	client := newHTTPClient(Config{Timeout: 5, HTTPProxy: proxy.URL})
	if client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", client.Timeout)
	}

	resp, err := client.Get("http://backend.invalid/v1/models")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if hits != 1 {
		t.Errorf("proxy hits = %d, want 1", hits)
	}
}
