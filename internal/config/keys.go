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
	kBool
	kFloat
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
		key: "server.port", typ: kInt, env: "ATTUNE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "ATTUNE_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "ATTUNE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "ATTUNE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.backend", typ: kString, env: "ATTUNE_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ATTUNE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "evolution.learning_rate", typ: kFloat, env: "ATTUNE_EVOLUTION_LEARNING_RATE",
		apply:   func(cfg *Config, v any) { cfg.Evolution.LearningRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evolution.LearningRate },
	},
	{
		key: "evolution.max_evolution_per_turn", typ: kFloat, env: "ATTUNE_EVOLUTION_MAX_EVOLUTION_PER_TURN",
		apply:   func(cfg *Config, v any) { cfg.Evolution.MaxEvolutionPerTurn = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evolution.MaxEvolutionPerTurn },
	},
	{
		key: "evolution.sentiment_weight", typ: kFloat, env: "ATTUNE_EVOLUTION_SENTIMENT_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evolution.SentimentWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evolution.SentimentWeight },
	},
	{
		key: "evolution.style_weight", typ: kFloat, env: "ATTUNE_EVOLUTION_STYLE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evolution.StyleWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evolution.StyleWeight },
	},
	{
		key: "evolution.consistency_weight", typ: kFloat, env: "ATTUNE_EVOLUTION_CONSISTENCY_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evolution.ConsistencyWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evolution.ConsistencyWeight },
	},
	{
		key: "evaluation.relevance_weight", typ: kFloat, env: "ATTUNE_EVALUATION_RELEVANCE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evaluation.Weights.Relevance = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evaluation.Weights.Relevance },
	},
	{
		key: "evaluation.engagement_weight", typ: kFloat, env: "ATTUNE_EVALUATION_ENGAGEMENT_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evaluation.Weights.Engagement = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evaluation.Weights.Engagement },
	},
	{
		key: "evaluation.personality_match_weight", typ: kFloat, env: "ATTUNE_EVALUATION_PERSONALITY_MATCH_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evaluation.Weights.PersonalityMatch = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evaluation.Weights.PersonalityMatch },
	},
	{
		key: "evaluation.technical_quality_weight", typ: kFloat, env: "ATTUNE_EVALUATION_TECHNICAL_QUALITY_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Evaluation.Weights.TechnicalQuality = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evaluation.Weights.TechnicalQuality },
	},
	{
		key: "evaluation.latency_budget_seconds", typ: kFloat, env: "ATTUNE_EVALUATION_LATENCY_BUDGET_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Evaluation.LatencyBudgetSeconds = v.(float64) },
		extract: func(cfg Config) any { return cfg.Evaluation.LatencyBudgetSeconds },
	},
	{
		key: "evaluation.stability_window", typ: kInt, env: "ATTUNE_EVALUATION_STABILITY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Evaluation.StabilityWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Evaluation.StabilityWindow },
	},
	{
		key: "profile.retention_window", typ: kInt, env: "ATTUNE_PROFILE_RETENTION_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Profile.RetentionWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Profile.RetentionWindow },
	},
	{
		key: "reply.base_url", typ: kString, env: "ATTUNE_REPLY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reply.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reply.BaseURL },
	},
	{
		key: "reply.model", typ: kString, env: "ATTUNE_REPLY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Reply.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Reply.Model },
	},
	{
		key: "reply.api_key", typ: kString, env: "ATTUNE_REPLY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Reply.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Reply.APIKey },
	},
	{
		key: "reply.timeout", typ: kString, env: "ATTUNE_REPLY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reply.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Reply.Timeout },
	},
	{
		key: "backup.interval", typ: kString, env: "ATTUNE_BACKUP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Backup.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Backup.Interval },
	},
	{
		key: "backup.dir", typ: kString, env: "ATTUNE_BACKUP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Backup.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Backup.Dir },
	},
	{
		key: "backup.keep", typ: kInt, env: "ATTUNE_BACKUP_KEEP",
		apply:   func(cfg *Config, v any) { cfg.Backup.Keep = v.(int) },
		extract: func(cfg Config) any { return cfg.Backup.Keep },
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
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not read float from config key %s: %v. Using default value.\n", s.key, err)
				continue
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
