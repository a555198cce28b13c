package llm

import (
	"net/http"
	"net/url"
)

// newHTTPClient builds the client the backends talk through. Explicit proxy
// settings win over HTTP_PROXY / HTTPS_PROXY / NO_PROXY.
func newHTTPClient(c Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFunc(c.HTTPProxy, c.HTTPSProxy)
	return &http.Client{
		Timeout:   c.timeout(),
		Transport: transport,
	}
}

func proxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}
