package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/crewclaims/internal/model"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PD-1042", "PD-1042"},
		{"claims/2024:03", "claims_2024_03"},
		{" per diem ", "per-diem"},
		{"..", "claim"},
		{"", "claim"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}

func TestEngineFlagsApply(t *testing.T) {
	cfg := model.DefaultConfig()
	f := engineFlags{llmProvider: "ollama", llmModel: "llama3.1", noCache: true, noStore: true, noFooter: true}
	f.apply(&cfg)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.False(t, cfg.Cache.Enabled)
	assert.Empty(t, cfg.Store.Driver)
	assert.False(t, cfg.Output.IncludeFooter)
}

// isolate points config discovery at an empty home directory
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = ""
	return home
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("CREWCLAIMS_LLM_PROVIDER", "ollama")
	t.Setenv("CREWCLAIMS_DISPATCH_SESSION_TIMEOUT", "2m")
	t.Setenv("CREWCLAIMS_AGGREGATION_APPROVAL_THRESHOLD", "0.75")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434/v1")
	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://gpu-box:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.SessionTimeout)
	assert.Equal(t, 0.75, cfg.Aggregation.ApprovalThreshold)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.EvaluatorTimeout)
	assert.Len(t, cfg.Registry.AlwaysOn, 2)
}

func TestLoadConfigFromFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".crewclaims")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
dispatch:
  evaluator_timeout: 10s
  session_timeout: 40s
  max_concurrent: 3
store:
  driver: ""
registry:
  always_on: [compliance]
`), 0o600))
	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.EvaluatorTimeout)
	assert.Equal(t, 40*time.Second, cfg.Dispatch.SessionTimeout)
	assert.Equal(t, 3, cfg.Dispatch.MaxConcurrent)
	assert.Empty(t, cfg.Store.Driver)
	assert.Equal(t, []model.AgentType{model.AgentCompliance}, cfg.Registry.AlwaysOn)
}

func TestValidateCommand(t *testing.T) {
	home := isolate(t)
	claimPath := filepath.Join(home, "claim.json")
	require.NoError(t, os.WriteFile(claimPath, []byte(`{
  "claim": {"id": "clm-1", "claimNumber": "PD-1", "type": "per-diem", "amount": "135.00",
            "submittedDate": "2024-03-05T00:00:00Z"},
  "trip": {"id": "trip-9", "departureTime": "2024-03-01T06:00:00Z", "arrivalTime": "2024-03-03T12:00:00Z",
           "blockMinutes": 300, "creditMinutes": 330, "dutyMinutes": 600},
  "crew": {"id": "crew-7", "name": "J. Rivera", "hourlyRate": "120", "perDiemRate": "2.50"}
}`), 0o600))
	jsonPath := filepath.Join(home, "out", "result.json")

	rootCmd.SetArgs([]string{"validate", claimPath, "--no-store", "--json", jsonPath})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var vr model.ValidationResult
	require.NoError(t, json.Unmarshal(data, &vr))
	assert.Equal(t, "clm-1", vr.ClaimID)
	assert.Equal(t, model.OverallApproved, vr.OverallStatus)
	assert.Len(t, vr.AgentResults, 3)
}
