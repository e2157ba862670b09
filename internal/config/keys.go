package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "leads.path", typ: kString, env: "CADENCE_LEADS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Leads.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Leads.Path },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CADENCE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "smartlead.base_url", typ: kString, env: "CADENCE_SMARTLEAD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Smartlead.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Smartlead.BaseURL },
	},
	{
		key: "smartlead.api_key", typ: kString, env: "CADENCE_SMARTLEAD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Smartlead.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Smartlead.APIKey },
	},
	{
		key: "smartlead.api_key_file", typ: kString, env: "CADENCE_SMARTLEAD_API_KEY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Smartlead.APIKeyFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Smartlead.APIKeyFile },
	},
	{
		key: "engine.channel", typ: kString, env: "CADENCE_ENGINE_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.Channel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Channel },
	},
	{
		key: "engine.max_attempts", typ: kInt, env: "CADENCE_ENGINE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Engine.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.MaxAttempts },
	},
	{
		key: "engine.cooldown_days", typ: kInt, env: "CADENCE_ENGINE_COOLDOWN_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Engine.CooldownDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.CooldownDays },
	},
	{
		key: "engine.due_window_days", typ: kInt, env: "CADENCE_ENGINE_DUE_WINDOW_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Engine.DueWindowDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.DueWindowDays },
	},
	{
		key: "engine.cohort_tag", typ: kString, env: "CADENCE_ENGINE_COHORT_TAG",
		apply:   func(cfg *Config, v any) { cfg.Engine.CohortTag = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.CohortTag },
	},
	{
		key: "engine.campaigns", typ: kString, env: "CADENCE_ENGINE_CAMPAIGNS",
		apply:   func(cfg *Config, v any) { cfg.Engine.Campaigns = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Campaigns },
	},
	{
		key: "engine.templates_dir", typ: kString, env: "CADENCE_ENGINE_TEMPLATES_DIR",
		apply:   func(cfg *Config, v any) { cfg.Engine.TemplatesDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.TemplatesDir },
	},
	{
		key: "poll.interval", typ: kString, env: "CADENCE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "poll.mode", typ: kString, env: "CADENCE_POLL_MODE",
		apply:   func(cfg *Config, v any) { cfg.Poll.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Poll.Mode },
	},
	{
		key: "server.port", typ: kInt, env: "CADENCE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "CADENCE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "CADENCE_LOG_LEVEL",
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
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
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
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
