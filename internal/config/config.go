package config

import (
	"fmt"
)

const serviceName = "norma"

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Storage StorageConfig
	Search  SearchConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type SearchConfig struct {
	// Strategy is a fixed system policy, "filter" or "semantic".
	Strategy string
	// SemanticMaxEvents caps the semantic strategy; above it queries fall
	// back to the filter strategy.
	SemanticMaxEvents int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash-lite",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			Strategy:          "filter",
			SemanticMaxEvents: 500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.norma.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/norma/config.json
// and secrets live in $XDG_DATA_HOME/norma/secrets.json.
//
// Environment variables (NORMA_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get(serviceName, "gemini_api_key"); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if cfg.Gemini.APIKey == "" {
		msg := "missing required config: Gemini API key. " +
			"Set it via environment variable NORMA_GEMINI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}
