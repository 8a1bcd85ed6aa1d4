// Package config handles companion configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Services
	Backend BackendConfig `json:"backend"`
	LLM     LLMConfig     `json:"llm"`
	Module  ModuleConfig  `json:"module"`

	// Behavior
	Assistant AssistantConfig `json:"assistant"`
	StatusAPI StatusAPIConfig `json:"status_api"`
}

// BackendConfig for the caregiving REST API
type BackendConfig struct {
	BaseURL    string `json:"base_url"`
	Token      string `json:"token"`
	PatientUID string `json:"patient_uid"`
}

// LLMConfig for the chat-completion endpoint
type LLMConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// ModuleConfig for the Aura module link
type ModuleConfig struct {
	HTTPPort        int    `json:"http_port"`
	WSPort          int    `json:"ws_port"`
	ExpectedService string `json:"expected_service"`
}

// AssistantConfig for voice behavior
type AssistantConfig struct {
	AlwaysListening bool   `json:"always_listening"`
	WakeWord        string `json:"wake_word"`
}

// StatusAPIConfig for the local status HTTP server
type StatusAPIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".orito"),
		Backend: BackendConfig{
			BaseURL:    "https://api.oritocare.app",
			Token:      os.Getenv("ORITO_API_TOKEN"),
			PatientUID: os.Getenv("ORITO_PATIENT_UID"),
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			APIKey:  os.Getenv("ORITO_LLM_API_KEY"),
			Model:   "gpt-4o-mini",
		},
		Module: ModuleConfig{
			HTTPPort:        8080,
			WSPort:          8765,
			ExpectedService: "AURA_MODULE",
		},
		Assistant: AssistantConfig{
			AlwaysListening: true,
			WakeWord:        "hey orito",
		},
		StatusAPI: StatusAPIConfig{
			Host: "127.0.0.1",
			Port: 8391,
		},
	}
}

// Load loads config from file, falling back to defaults.
// A .env file in the working directory is read first so that
// secrets never have to live in config.json.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Env always wins for secrets
	if token := os.Getenv("ORITO_API_TOKEN"); token != "" {
		cfg.Backend.Token = token
	}
	if key := os.Getenv("ORITO_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if uid := os.Getenv("ORITO_PATIENT_UID"); uid != "" {
		cfg.Backend.PatientUID = uid
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
