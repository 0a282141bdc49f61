// Package config handles configuration loading, saving, and schema definition.
package config

import "os"

// Config is the top-level dragond configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Chat     ChatConfig     `json:"chat"`
	Provider ProviderConfig `json:"provider"`
	Audit    AuditConfig    `json:"audit"`
	Scan     ScanConfig     `json:"scan"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Port          int    `json:"port,omitempty"`
	AllowedOrigin string `json:"allowedOrigin,omitempty"`
	// APIKey guards the /api surface with a bearer token when set.
	APIKey string `json:"apiKey,omitempty"`
}

// ChatConfig holds the chat session store settings.
type ChatConfig struct {
	// EncryptKey protects history at rest. When empty a random
	// per-process key is generated at startup (exports then do not
	// survive restarts).
	EncryptKey   string `json:"encryptKey,omitempty"`
	SessionCap   int    `json:"sessionCap,omitempty"`
	SessionsFile string `json:"sessionsFile,omitempty"`
}

// ProviderConfig holds the LLM backend settings.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model,omitempty"`
}

// AuditConfig holds the audit trail settings.
type AuditConfig struct {
	File     string `json:"file,omitempty"`
	MaxBytes int64  `json:"maxBytes,omitempty"`
	RedisURL string `json:"redisUrl,omitempty"`
}

// ScanConfig holds the security scanner settings.
type ScanConfig struct {
	RulesFile string `json:"rulesFile,omitempty"`
}

// ApplyEnv overlays secrets and connection settings from the environment.
// Env always wins over the config file for these values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DRAGOND_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("DRAGOND_CHAT_KEY"); v != "" {
		c.Chat.EncryptKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		c.Provider.APIBase = v
	}
	if v := os.Getenv("DRAGOND_REDIS_URL"); v != "" {
		c.Audit.RedisURL = v
	}
}
