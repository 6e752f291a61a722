package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // legacy env names, consulted after env
	secret  bool
	account string // secret store account name; secrets only
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SENTINEL_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SENTINEL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "SENTINEL_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "SENTINEL_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "gemini.api_key", typ: kString, env: "SENTINEL_GEMINI_API_KEY",
		aliases: []string{"GEMINI_API_KEY"},
		secret:  true, account: "gemini_api_key",
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "SENTINEL_GEMINI_MODEL",
		aliases: []string{"GEMINI_MODEL", "NEXT_PUBLIC_GEMINI_MODEL"},
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.base_url", typ: kString, env: "SENTINEL_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.timeout", typ: kString, env: "SENTINEL_GEMINI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Timeout },
	},
	{
		key: "gemini.retry", typ: kBool, env: "SENTINEL_GEMINI_RETRY",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Retry = v.(bool) },
		extract: func(cfg Config) any { return cfg.Gemini.Retry },
	},
	{
		key: "knowledge.scope_dir", typ: kString, env: "SENTINEL_KNOWLEDGE_SCOPE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.ScopeDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Knowledge.ScopeDir },
	},
	{
		key: "knowledge.docs_dir", typ: kString, env: "SENTINEL_KNOWLEDGE_DOCS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.DocsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Knowledge.DocsDir },
	},
	{
		key: "knowledge.extensions", typ: kString, env: "SENTINEL_KNOWLEDGE_EXTENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.Extensions = v.(string) },
		extract: func(cfg Config) any { return cfg.Knowledge.Extensions },
	},
	{
		key: "knowledge.max_context_chars", typ: kInt, env: "SENTINEL_KNOWLEDGE_MAX_CONTEXT_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.MaxContextChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.MaxContextChars },
	},
	{
		key: "knowledge.skip_unreadable", typ: kBool, env: "SENTINEL_KNOWLEDGE_SKIP_UNREADABLE",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.SkipUnreadable = v.(bool) },
		extract: func(cfg Config) any { return cfg.Knowledge.SkipUnreadable },
	},
	{
		key: "knowledge.cache", typ: kBool, env: "SENTINEL_KNOWLEDGE_CACHE",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.Cache = v.(bool) },
		extract: func(cfg Config) any { return cfg.Knowledge.Cache },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SENTINEL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.record_interactions", typ: kBool, env: "SENTINEL_STORAGE_RECORD_INTERACTIONS",
		apply:   func(cfg *Config, v any) { cfg.Storage.RecordInteractions = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.RecordInteractions },
	},
	{
		key: "api.token", typ: kString, env: "SENTINEL_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "SENTINEL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					slog.Warn("could not parse bool from config key, using default", "key", s.key, "value", v, "error", err)
				}
			}
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the key's primary env
// var and its aliases.
func (s keySpec) lookupEnv() (string, string) {
	for _, name := range append([]string{s.env}, s.aliases...) {
		if name == "" {
			continue
		}
		if raw := os.Getenv(name); raw != "" {
			return name, raw
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookupEnv()
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, using default", "env", name, "value", raw, "error", err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				slog.Warn("could not parse bool from env var, using default", "env", name, "value", raw, "error", err)
			}
		}
	}
}
