package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DataPath returns the dragond data directory (~/.dragond).
func DataPath() string {
	home, _ := os.UserHomeDir()
	p := filepath.Join(home, ".dragond")
	os.MkdirAll(p, 0755)
	return p
}

// GetConfigPath returns the default config file path (~/.dragond/config.json).
func GetConfigPath() string {
	return filepath.Join(DataPath(), "config.json")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	data := DataPath()
	return Config{
		Server: ServerConfig{
			Port:          3000,
			AllowedOrigin: "*",
		},
		Chat: ChatConfig{
			SessionsFile: filepath.Join(data, "sessions.json"),
		},
		Audit: AuditConfig{
			File: filepath.Join(data, "audit.log"),
		},
	}
}

// Load reads configuration from a JSON file.
// If path is empty, uses the default config path.
// If the file doesn't exist, returns DefaultConfig().
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}

	cfg := DefaultConfig() // start with defaults so zero-value fields get filled
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
