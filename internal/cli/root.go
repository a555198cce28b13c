package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/crewclaims/internal/model"
)

const envPrefix = "CREWCLAIMS"

var (
	cfgFile string
	verbose bool
	version = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "crewclaims",
	Short: "Crewclaims - crew payroll claim validation",
	Long: `Crewclaims validates airline crew payroll claims.

Each claim is routed to the evaluators its type calls for (flight time,
duty time, per diem, premium pay, guarantee, disputes, excess payment and
compliance). The evaluators run concurrently under a per-evaluator and a
per-session deadline, and their verdicts are merged into one decision:
approved, flagged for review, or rejected.

Verdicts are advisory. Payroll makes the final decision.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version reported by the version command and telemetry
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of crewclaims.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crewclaims %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.crewclaims/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(filepath.Join(home, ".crewclaims"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// CREWCLAIMS_LLM_PROVIDER overrides llm.provider, and so on
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// bindEnv registers every config key so environment overrides reach
// Unmarshal even when the config file does not mention the key
func bindEnv() {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	for _, key := range flattenKeys("", tree) {
		_ = viper.BindEnv(key)
	}
}

func flattenKeys(prefix string, tree map[string]any) []string {
	var keys []string
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 && prefix != "registry" {
			keys = append(keys, flattenKeys(key, sub)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// loadConfig layers the config file and environment over the defaults
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, model.NewConfigError("config", err)
	}

	// Provider keys follow the usual SDK environment variables
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return cfg, nil
}

func setupLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
