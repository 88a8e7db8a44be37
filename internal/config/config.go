package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/storage"
)

// secretService is the keychain service secrets are stored under.
const secretService = "attune"

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Evolution  personality.Config
	Evaluation EvaluationConfig
	Profile    ProfileConfig
	Reply      ReplyConfig
	Backup     BackupConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Backend string
	DataDir string
}

type EvaluationConfig struct {
	Weights              evaluation.Weights
	LatencyBudgetSeconds float64
	StabilityWindow      int
}

type ProfileConfig struct {
	RetentionWindow int
}

type ReplyConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout string
}

type BackupConfig struct {
	Interval string
	Dir      string
	Keep     int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: storage.KindFile,
			DataDir: defaultDataDir(),
		},
		Evolution: personality.DefaultConfig(),
		Evaluation: EvaluationConfig{
			Weights:              evaluation.DefaultWeights(),
			LatencyBudgetSeconds: evaluation.DefaultLatencyBudget,
			StabilityWindow:      evaluation.DefaultStabilityWindow,
		},
		Profile: ProfileConfig{
			RetentionWindow: 50,
		},
		Reply: ReplyConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
			Timeout: "10s",
		},
		Backup: BackupConfig{
			Interval: "0",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store, then validates the result.
//
// On macOS the backend is UserDefaults (domain: com.attune.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/attune/config.json
// and secrets fall back to $XDG_DATA_HOME/attune/secrets.json.
//
// Environment variables (ATTUNE_*) override backend values on all platforms.
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

	// Secrets not given through the environment come from the keychain.
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.Storage.DataDir, "backups")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with. Evaluation weights
// are never renormalized; a set that does not sum to 1 is an error.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errdefs.Validation("server.port", "must be in 1..65535, got %d", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errdefs.Validation("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errdefs.Validation("log.format", "must be text or json, got %q", c.Log.Format)
	}
	if c.Storage.Backend != storage.KindFile && c.Storage.Backend != storage.KindSQLite {
		return errdefs.Validation("storage.backend", "must be %s or %s, got %q", storage.KindFile, storage.KindSQLite, c.Storage.Backend)
	}
	if c.Storage.DataDir == "" {
		return errdefs.Validation("storage.data_dir", "must not be empty")
	}
	if err := c.Evolution.Validate(); err != nil {
		return err
	}
	if err := c.Evaluation.Weights.Validate(); err != nil {
		return err
	}
	if c.Evaluation.LatencyBudgetSeconds <= 0 {
		return errdefs.Validation("evaluation.latency_budget_seconds", "must be positive, got %v", c.Evaluation.LatencyBudgetSeconds)
	}
	if c.Evaluation.StabilityWindow < 1 {
		return errdefs.Validation("evaluation.stability_window", "must be at least 1, got %d", c.Evaluation.StabilityWindow)
	}
	if c.Profile.RetentionWindow < 1 {
		return errdefs.Validation("profile.retention_window", "must be at least 1, got %d", c.Profile.RetentionWindow)
	}
	if d, err := time.ParseDuration(c.Reply.Timeout); err != nil || d <= 0 {
		return errdefs.Validation("reply.timeout", "must be a positive duration, got %q", c.Reply.Timeout)
	}
	if d, err := time.ParseDuration(c.Backup.Interval); err != nil || d < 0 {
		return errdefs.Validation("backup.interval", "must be a duration, got %q", c.Backup.Interval)
	}
	if c.Backup.Keep < 0 {
		return errdefs.Validation("backup.keep", "must not be negative, got %d", c.Backup.Keep)
	}
	return nil
}

// ReplyTimeout returns reply.timeout as a duration. Call only on a
// validated Config.
func (c Config) ReplyTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Reply.Timeout)
	return d
}

// BackupInterval returns backup.interval as a duration; zero disables
// scheduled backups.
func (c Config) BackupInterval() time.Duration {
	d, _ := time.ParseDuration(c.Backup.Interval)
	return d
}

// secretAccount maps "reply.api_key" to the keychain account "reply_api_key".
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
