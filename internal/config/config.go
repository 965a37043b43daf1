// Package config loads application settings from a .env file and
// environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Grants  GrantsConfig
	Sam     SamConfig
	OpenAI  OpenAIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type GrantsConfig struct {
	ExtractURL string
}

type SamConfig struct {
	BaseURL   string
	APIKey    string
	PageSize  int
	DaysBack  int
	PageDelay time.Duration
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	Dimension  int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Grants: GrantsConfig{
			ExtractURL: "https://www.grants.gov/xml-extract/",
		},
		Sam: SamConfig{
			BaseURL:   "https://api.sam.gov/opportunities/v2/search",
			PageSize:  100,
			DaysBack:  90,
			PageDelay: 500 * time.Millisecond,
		},
		OpenAI: OpenAIConfig{
			EmbedModel: "text-embedding-3-small",
			Dimension:  1536,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".propbot")
}

// Load reads configuration from a .env file in the working directory (if
// present) and the environment. Environment variables always win. API keys
// are not validated here; components that need them fail at construction.
func Load() (Config, error) {
	// Best-effort; a missing .env file is fine.
	_ = godotenv.Load()

	cfg := defaults()

	if v := os.Getenv("PROPBOT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROPBOT_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("PROPBOT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("PROPBOT_GRANTS_EXTRACT_URL"); v != "" {
		cfg.Grants.ExtractURL = v
	}
	if v := os.Getenv("PROPBOT_SAM_API_URL"); v != "" {
		cfg.Sam.BaseURL = v
	}
	if v := os.Getenv("SAM_API_KEY"); v != "" {
		cfg.Sam.APIKey = v
	}
	if v := os.Getenv("PROPBOT_SAM_PAGE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROPBOT_SAM_PAGE_SIZE %q: %w", v, err)
		}
		cfg.Sam.PageSize = size
	}
	if v := os.Getenv("PROPBOT_SAM_DAYS_BACK"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROPBOT_SAM_DAYS_BACK %q: %w", v, err)
		}
		cfg.Sam.DaysBack = days
	}
	if v := os.Getenv("PROPBOT_SAM_PAGE_DELAY"); v != "" {
		delay, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROPBOT_SAM_PAGE_DELAY %q: %w", v, err)
		}
		cfg.Sam.PageDelay = delay
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("PROPBOT_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("PROPBOT_EMBED_MODEL"); v != "" {
		cfg.OpenAI.EmbedModel = v
	}
	if v := os.Getenv("PROPBOT_EMBED_DIMENSION"); v != "" {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROPBOT_EMBED_DIMENSION %q: %w", v, err)
		}
		cfg.OpenAI.Dimension = dim
	}
	if v := os.Getenv("PROPBOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
