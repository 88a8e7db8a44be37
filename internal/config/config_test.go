package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	calls  []string
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	m.calls = append(m.calls, service+"/"+account)
	v, ok := m.values[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]string
}

func newMemBackend(kv map[string]string) *memBackend {
	if kv == nil {
		kv = make(map[string]string)
	}
	return &memBackend{data: kv}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (m *memBackend) GetFloat(key string) (float64, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, true, fmt.Errorf("invalid number for %s: %w", key, err)
	}
	return f, true, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetFloat(key string, val float64) error {
	m.data[key] = strconv.FormatFloat(val, 'g', -1, 64)
	return nil
}
func (m *memBackend) SetInt(key string, val int) error {
	m.data[key] = strconv.Itoa(val)
	return nil
}
func (m *memBackend) Delete(key string) error { delete(m.data, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(map[string]string{"storage.data_dir": "/tmp/attune-test"}), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if diff := cmp.Diff(personality.DefaultConfig(), cfg.Evolution); diff != "" {
		t.Errorf("Evolution mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(evaluation.DefaultWeights(), cfg.Evaluation.Weights); diff != "" {
		t.Errorf("Weights mismatch (-want +got):\n%s", diff)
	}
	if cfg.Evaluation.StabilityWindow != 10 {
		t.Errorf("StabilityWindow = %d, want 10", cfg.Evaluation.StabilityWindow)
	}
	if cfg.Profile.RetentionWindow != 50 {
		t.Errorf("RetentionWindow = %d, want 50", cfg.Profile.RetentionWindow)
	}
	if cfg.ReplyTimeout() != 10*time.Second {
		t.Errorf("ReplyTimeout = %v, want 10s", cfg.ReplyTimeout())
	}
	if cfg.BackupInterval() != 0 {
		t.Errorf("BackupInterval = %v, want 0", cfg.BackupInterval())
	}
	if want := filepath.Join("/tmp/attune-test", "backups"); cfg.Backup.Dir != want {
		t.Errorf("Backup.Dir = %q, want %q", cfg.Backup.Dir, want)
	}
	if cfg.Reply.APIKey != "" {
		t.Errorf("Reply.APIKey = %q, want empty", cfg.Reply.APIKey)
	}
}

func TestBackendValues(t *testing.T) {
	b := newMemBackend(map[string]string{
		"server.port":                       "5000",
		"storage.backend":                   "sqlite",
		"evolution.learning_rate":           "0.25",
		"evaluation.relevance_weight":       "0.35",
		"evaluation.engagement_weight":      "0.2",
		"evaluation.latency_budget_seconds": "5",
		"profile.retention_window":          "20",
		"reply.model":                       "openai/gpt-4o",
		"backup.interval":                   "1h",
		"backup.keep":                       "3",
	})
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Evolution.LearningRate != 0.25 {
		t.Errorf("LearningRate = %v", cfg.Evolution.LearningRate)
	}
	if cfg.Evaluation.Weights.Relevance != 0.35 || cfg.Evaluation.Weights.Engagement != 0.2 {
		t.Errorf("Weights = %+v", cfg.Evaluation.Weights)
	}
	if cfg.Evaluation.LatencyBudgetSeconds != 5 {
		t.Errorf("LatencyBudgetSeconds = %v", cfg.Evaluation.LatencyBudgetSeconds)
	}
	if cfg.Profile.RetentionWindow != 20 {
		t.Errorf("RetentionWindow = %d", cfg.Profile.RetentionWindow)
	}
	if cfg.Reply.Model != "openai/gpt-4o" {
		t.Errorf("Reply.Model = %q", cfg.Reply.Model)
	}
	if cfg.BackupInterval() != time.Hour || cfg.Backup.Keep != 3 {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMemBackend(map[string]string{
		"server.port":             "5000",
		"evolution.learning_rate": "0.25",
	})
	t.Setenv("ATTUNE_SERVER_PORT", "6000")
	t.Setenv("ATTUNE_EVOLUTION_LEARNING_RATE", "0.5")
	t.Setenv("ATTUNE_REPLY_API_KEY", "env-key")

	kc := &mockKeychain{values: map[string]string{"reply_api_key": "keychain-key"}}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Evolution.LearningRate != 0.5 {
		t.Errorf("LearningRate = %v, want 0.5", cfg.Evolution.LearningRate)
	}
	if cfg.Reply.APIKey != "env-key" {
		t.Errorf("Reply.APIKey = %q, want env-key", cfg.Reply.APIKey)
	}
}

func TestEnvOverride_BadNumberKeepsDefault(t *testing.T) {
	t.Setenv("ATTUNE_SERVER_PORT", "not-a-number")
	t.Setenv("ATTUNE_EVOLUTION_STYLE_WEIGHT", "heavy")

	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Evolution.StyleWeight != 0.4 {
		t.Errorf("StyleWeight = %v, want 0.4", cfg.Evolution.StyleWeight)
	}
}

func TestKeychainFallback(t *testing.T) {
	kc := &mockKeychain{values: map[string]string{
		"reply_api_key":    "keychain-secret",
		"server_api_token": "token-123",
	}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Reply.APIKey != "keychain-secret" {
		t.Errorf("Reply.APIKey = %q, want keychain-secret", cfg.Reply.APIKey)
	}
	if cfg.Server.APIToken != "token-123" {
		t.Errorf("Server.APIToken = %q, want token-123", cfg.Server.APIToken)
	}
	for _, c := range kc.calls {
		if c != "attune/reply_api_key" && c != "attune/server_api_token" {
			t.Errorf("unexpected keychain lookup %q", c)
		}
	}
}

func TestSecretsIgnoredInBackend(t *testing.T) {
	b := newMemBackend(map[string]string{"reply.api_key": "plaintext"})
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Reply.APIKey != "" {
		t.Errorf("Reply.APIKey = %q, want secret not read from backend", cfg.Reply.APIKey)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		kv    map[string]string
		field string
	}{
		{"weights do not sum to one", map[string]string{"evaluation.relevance_weight": "0.5"}, "evaluation weights"},
		{"negative weight", map[string]string{
			"evaluation.relevance_weight":  "-0.1",
			"evaluation.engagement_weight": "0.65",
		}, "relevance_weight"},
		{"learning rate zero", map[string]string{"evolution.learning_rate": "0"}, "learning_rate"},
		{"learning rate above one", map[string]string{"evolution.learning_rate": "1.5"}, "learning_rate"},
		{"max step above one", map[string]string{"evolution.max_evolution_per_turn": "2"}, "max_evolution_per_turn"},
		{"negative influence weight", map[string]string{"evolution.style_weight": "-1"}, "style_weight"},
		{"retention zero", map[string]string{"profile.retention_window": "0"}, "profile.retention_window"},
		{"stability window zero", map[string]string{"evaluation.stability_window": "0"}, "evaluation.stability_window"},
		{"unknown backend", map[string]string{"storage.backend": "redis"}, "storage.backend"},
		{"bad log level", map[string]string{"log.level": "loud"}, "log.level"},
		{"bad log format", map[string]string{"log.format": "xml"}, "log.format"},
		{"bad timeout", map[string]string{"reply.timeout": "soon"}, "reply.timeout"},
		{"zero timeout", map[string]string{"reply.timeout": "0s"}, "reply.timeout"},
		{"negative interval", map[string]string{"backup.interval": "-1h"}, "backup.interval"},
		{"negative keep", map[string]string{"backup.keep": "-2"}, "backup.keep"},
		{"port out of range", map[string]string{"server.port": "70000"}, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(newMemBackend(tt.kv), &mockKeychain{})
			var verr *errdefs.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Reply.APIKey = "sk-secret"
	cfg.Server.APIToken = "tok"

	keys := make(map[string]string)
	for _, ki := range ShowAll(cfg) {
		keys[ki.Key] = ki.Value
		if ki.Value == "sk-secret" || ki.Value == "tok" {
			t.Errorf("secret value exposed under %s", ki.Key)
		}
	}
	if keys["reply.api_key"] != secretSet {
		t.Errorf("reply.api_key = %q, want %q", keys["reply.api_key"], secretSet)
	}
	cfg.Reply.APIKey = ""
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "reply.api_key" && (ki.Value != secretUnset || !ki.Secret) {
			t.Errorf("unset secret row = %+v", ki)
		}
	}
	if keys["evolution.learning_rate"] != "0.1" {
		t.Errorf("evolution.learning_rate = %q, want 0.1", keys["evolution.learning_rate"])
	}
	if keys["server.port"] != "4100" {
		t.Errorf("server.port = %q, want 4100", keys["server.port"])
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)
	secrets := make(map[string]string)
	setSecret := func(service, account, value string) error {
		secrets[service+"/"+account] = value
		return nil
	}

	if err := setKeyWith(b, setSecret, "evolution.learning_rate", "0.2"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if err := setKeyWith(b, setSecret, "profile.retention_window", "30"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(b, setSecret, "reply.model", "x/y"); err != nil {
		t.Fatalf("set string: %v", err)
	}
	if err := setKeyWith(b, setSecret, "reply.api_key", "sk-1"); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	want := map[string]string{
		"evolution.learning_rate":  "0.2",
		"profile.retention_window": "30",
		"reply.model":              "x/y",
	}
	if diff := cmp.Diff(want, b.data); diff != "" {
		t.Errorf("backend mismatch (-want +got):\n%s", diff)
	}
	if secrets["attune/reply_api_key"] != "sk-1" {
		t.Errorf("secrets = %v", secrets)
	}

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("load after set: %v", err)
	}
	if cfg.Evolution.LearningRate != 0.2 || cfg.Profile.RetentionWindow != 30 {
		t.Errorf("round trip = %+v / %+v", cfg.Evolution, cfg.Profile)
	}
}

func TestSetKey_Errors(t *testing.T) {
	b := newMemBackend(nil)
	noSecret := func(string, string, string) error { return nil }
	tests := []struct {
		key, value string
	}{
		{"no.such.key", "1"},
		{"server.port", "abc"},
		{"evolution.learning_rate", "fast"},
	}
	for _, tt := range tests {
		if err := setKeyWith(b, noSecret, tt.key, tt.value); err == nil {
			t.Errorf("setKeyWith(%q, %q) succeeded, want error", tt.key, tt.value)
		}
	}
	if len(b.data) != 0 {
		t.Errorf("backend written on error: %v", b.data)
	}
}

func TestUnsetKey(t *testing.T) {
	b := newMemBackend(map[string]string{"server.port": "4200", "reply.model": "x/y"})
	secrets := map[string]string{"attune/reply_api_key": "sk-1"}
	setSecret := func(service, account, value string) error {
		if value == "" {
			delete(secrets, service+"/"+account)
			return nil
		}
		secrets[service+"/"+account] = value
		return nil
	}

	if err := unsetKeyWith(b, setSecret, "server.port"); err != nil {
		t.Fatalf("unset server.port: %v", err)
	}
	if err := unsetKeyWith(b, setSecret, "reply.api_key"); err != nil {
		t.Fatalf("unset reply.api_key: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"reply.model": "x/y"}, b.data); diff != "" {
		t.Errorf("backend mismatch (-want +got):\n%s", diff)
	}
	if len(secrets) != 0 {
		t.Errorf("secrets = %v, want empty", secrets)
	}
	if err := unsetKeyWith(b, setSecret, "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestValidKeys_IncludesSecrets(t *testing.T) {
	found := false
	for _, k := range ValidKeys() {
		if k == "reply.api_key" {
			found = true
		}
	}
	if !found {
		t.Error("reply.api_key missing from ValidKeys")
	}
}
