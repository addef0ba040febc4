package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk CLI configuration, one named environment per
// server the operator talks to.
type Config struct {
	DefaultEnv   string               `yaml:"default_env"`
	Environments map[string]EnvConfig `yaml:"environments"`
}

// EnvConfig holds the connection settings for one environment.
type EnvConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// GetConfigPath returns the config file location under the user's home.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".paywallctl", "config.yaml"), nil
}

// LoadConfig reads the config file. A missing file is not an error; it
// yields an empty config so first-run commands can still work off flags.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &Config{DefaultEnv: "prod", Environments: map[string]EnvConfig{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the config file, creating ~/.paywallctl if needed.
// The file holds API keys, hence the restrictive modes.
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetEnvConfig resolves the effective connection settings for a command.
// Precedence: flags, then PAYWALLCTL_* environment variables, then the
// config file. Returns the settings and the environment name they came
// from.
func GetEnvConfig(envName, baseURLFlag, apiKeyFlag string) (*EnvConfig, string, error) {
	envBaseURL := os.Getenv("PAYWALLCTL_BASE_URL")
	envAPIKey := os.Getenv("PAYWALLCTL_API_KEY")

	// A complete override from flags or environment variables needs no
	// config file, only an explicit --env to label the target.
	if baseURLFlag != "" && apiKeyFlag != "" {
		if envName == "" {
			return nil, "", fmt.Errorf("--env flag is required when using --base-url and --api-key flags")
		}
		return &EnvConfig{BaseURL: baseURLFlag, APIKey: apiKeyFlag}, envName, nil
	}
	if envBaseURL != "" && envAPIKey != "" {
		if envName == "" {
			return nil, "", fmt.Errorf("--env flag is required when using PAYWALLCTL_BASE_URL and PAYWALLCTL_API_KEY environment variables")
		}
		return &EnvConfig{BaseURL: envBaseURL, APIKey: envAPIKey}, envName, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}
	if envName == "" {
		envName = cfg.DefaultEnv
	}
	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return nil, "", fmt.Errorf("environment '%s' not found in config", envName)
	}

	// Partial overrides layer on top of the file values.
	envCfg.BaseURL = firstNonEmpty(baseURLFlag, envBaseURL, envCfg.BaseURL)
	envCfg.APIKey = firstNonEmpty(apiKeyFlag, envAPIKey, envCfg.APIKey)

	if envCfg.BaseURL == "" || envCfg.APIKey == "" {
		return nil, "", fmt.Errorf("base_url and api_key must be configured for environment '%s'", envName)
	}
	return &envCfg, envName, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// InitConfig writes a starter config with placeholder environments.
func InitConfig() error {
	return SaveConfig(&Config{
		DefaultEnv: "prod",
		Environments: map[string]EnvConfig{
			"dev":     {BaseURL: "http://localhost:8080", APIKey: "dev-key-123"},
			"staging": {BaseURL: "https://staging.example.com", APIKey: "staging-key-456"},
			"prod":    {BaseURL: "https://paywall.example.com", APIKey: "prod-key-789"},
		},
	})
}
