package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/cadence/internal/assign"
	"github.com/kalambet/cadence/internal/lead"
)

type Config struct {
	Leads     LeadsConfig
	Storage   StorageConfig
	Smartlead SmartleadConfig
	Engine    EngineConfig
	Poll      PollConfig
	Server    ServerConfig
	Log       LogConfig
}

type LeadsConfig struct {
	Path string `validate:"required"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type SmartleadConfig struct {
	BaseURL    string `validate:"required,url"`
	APIKey     string
	APIKeyFile string
}

type EngineConfig struct {
	Channel       string `validate:"required"`
	MaxAttempts   int    `validate:"min=1"`
	CooldownDays  int    `validate:"min=0"`
	DueWindowDays int    `validate:"min=0"`
	CohortTag     string
	// Campaigns maps channel step to provider campaign id, "1:111,2:222".
	Campaigns    string
	TemplatesDir string
}

type PollConfig struct {
	Interval string `validate:"required"`
	Mode     string `validate:"oneof=automation confirm"`
}

type ServerConfig struct {
	Port  int `validate:"min=1,max=65535"`
	Token string
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Leads: LeadsConfig{
			Path: "leads.xlsx",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Smartlead: SmartleadConfig{
			BaseURL:    "https://server.smartlead.ai/api/v1",
			APIKeyFile: "smartlead_api.txt",
		},
		Engine: EngineConfig{
			Channel:       string(lead.ChannelEmail),
			MaxAttempts:   4,
			CooldownDays:  90,
			DueWindowDays: 1,
			TemplatesDir:  "templates",
		},
		Poll: PollConfig{
			Interval: "20m",
			Mode:     "automation",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, the Smartlead key file and the platform secret store.
//
// The backend is config.yaml in ~/Library/Application Support/cadence on
// macOS and $XDG_CONFIG_HOME/cadence elsewhere. Secrets fall back to the
// Keychain on macOS and to $XDG_DATA_HOME/cadence/secrets.yaml elsewhere.
//
// Environment variables (CADENCE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Smartlead.APIKey == "" && cfg.Smartlead.APIKeyFile != "" {
		key, err := readKeyFile(cfg.Smartlead.APIKeyFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Smartlead.APIKey = key
	}

	if cfg.Smartlead.APIKey == "" {
		if key, err := kc.Get("cadence", "smartlead_api_key"); err == nil && key != "" {
			cfg.Smartlead.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readKeyFile returns the trimmed first line of path, or "" if it does not
// exist.
func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading smartlead key file %s: %w", path, err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}

// Validate checks field constraints and the values that need parsing.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := lead.ParseChannel(c.Engine.Channel); err != nil {
		return fmt.Errorf("invalid config engine.channel: %w", err)
	}
	if _, err := c.PollInterval(); err != nil {
		return fmt.Errorf("invalid config poll.interval: %w", err)
	}
	if c.Engine.Campaigns != "" {
		if _, err := assign.ParseCampaignTable(c.Engine.Campaigns); err != nil {
			return fmt.Errorf("invalid config engine.campaigns: %w", err)
		}
	}
	return nil
}

// RequireAPIKey fails when no Smartlead key was found anywhere.
func (c Config) RequireAPIKey() error {
	if c.Smartlead.APIKey != "" {
		return nil
	}
	return fmt.Errorf("missing required config: Smartlead API key. "+
		"Set it via environment variable CADENCE_SMARTLEAD_API_KEY or the key file %s%s",
		c.Smartlead.APIKeyFile, apiKeyHint())
}

// Channel is the parsed engine.channel.
func (c Config) Channel() lead.Channel {
	ch, err := lead.ParseChannel(c.Engine.Channel)
	if err != nil {
		return lead.ChannelEmail
	}
	return ch
}

// Campaigns is the parsed engine.campaigns table.
func (c Config) Campaigns() (assign.CampaignTable, error) {
	if c.Engine.Campaigns == "" {
		return nil, errors.New("engine.campaigns is empty; set it to a step:campaign list such as 1:111,2:222")
	}
	return assign.ParseCampaignTable(c.Engine.Campaigns)
}

func (c Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Poll.Interval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}

// keychainReader reads the platform secret store: Keychain on macOS, a
// secrets file elsewhere.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
