package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Auth       AuthConfig       `toml:"auth"`
	LLM        LLMConfig        `toml:"llm"`
	Publishing PublishingConfig `toml:"publishing"`
	Instance   InstanceConfig   `toml:"instance"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

type LLMConfig struct {
	OpenAIAPIKey string `toml:"openai_api_key"`
	Model        string `toml:"model"`
}

// PublishingConfig governs the publish gate.
type PublishingConfig struct {
	TwoPersonRule bool `toml:"two_person_rule"`
}

type InstanceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/copdesk.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Publishing: PublishingConfig{
			TwoPersonRule: false,
		},
		Instance: InstanceConfig{
			ID:   "local",
			Name: "copdesk-local",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
