package config

import (
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Gemini    GeminiConfig
	Knowledge KnowledgeConfig
	Storage   StorageConfig
	API       APIConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	MaxConns   int
	MCPEnabled bool
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout string
	Retry   bool
}

type KnowledgeConfig struct {
	ScopeDir        string
	DocsDir         string
	Extensions      string
	MaxContextChars int
	SkipUnreadable  bool
	Cache           bool
}

type StorageConfig struct {
	DataDir            string
	RecordInteractions bool
}

// APIConfig holds settings for the bearer-protected management routes.
// An empty Token disables them.
type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     3000,
			MaxConns: 256,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-1.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "30s",
			Retry:   true,
		},
		Knowledge: KnowledgeConfig{
			ScopeDir:        filepath.Join("chatbot", "scope"),
			DocsDir:         filepath.Join("chatbot", "docs"),
			Extensions:      ".md",
			MaxContextChars: 120000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend, environment
// variables and the platform secret store, in that order of precedence
// (later wins, secrets only fill empty values).
//
// The file lives at $XDG_CONFIG_HOME/sentinel/config.json. Environment
// variables (SENTINEL_*, plus the GEMINI_API_KEY / GEMINI_MODEL aliases)
// override it. A missing Gemini API key is not an error here: the chat
// endpoint reports it per request so the rest of the server stays usable.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get("sentinel", s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// ExtensionList splits the comma-separated extension setting, adding a
// leading dot where missing.
func (k KnowledgeConfig) ExtensionList() []string {
	var exts []string
	for _, e := range strings.Split(k.Extensions, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}

// keychainReader reads secrets from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sentinel-data"
		}
	}
	return filepath.Join(dir, "sentinel")
}
