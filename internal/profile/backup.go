package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file written next to the snapshots in a backup.
const ManifestName = "manifest.yaml"

// Manifest describes one backup directory.
type Manifest struct {
	CreatedAt     time.Time       `yaml:"created_at" json:"created_at"`
	SchemaVersion int             `yaml:"schema_version" json:"schema_version"`
	Dir           string          `yaml:"dir" json:"dir"`
	Users         []ManifestEntry `yaml:"users" json:"users"`
}

// ManifestEntry is one snapshotted profile.
type ManifestEntry struct {
	UserID     string    `yaml:"user_id" json:"user_id"`
	File       string    `yaml:"file" json:"file"`
	TotalTurns int       `yaml:"total_turns" json:"total_turns"`
	UpdatedAt  time.Time `yaml:"updated_at" json:"updated_at"`
}

// Backup snapshots every stored profile into a new timestamped directory
// under dir and writes a YAML manifest listing them.
func (s *Store) Backup(ctx context.Context, dir string) (Manifest, error) {
	now := s.clock.Now().UTC()
	target := filepath.Join(dir, "attune-"+now.Format("20060102T150405.000Z"))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("creating backup directory: %w", err)
	}

	profiles, err := s.loadAll(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("loading profiles: %w", err)
	}

	m := Manifest{CreatedAt: now, SchemaVersion: SchemaVersion, Dir: target}
	for i, p := range profiles {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return Manifest{}, fmt.Errorf("encoding %q: %w", p.UserID, err)
		}
		name := fmt.Sprintf("profile-%04d.json", i+1)
		if err := os.WriteFile(filepath.Join(target, name), data, 0o644); err != nil {
			return Manifest{}, fmt.Errorf("writing %s: %w", name, err)
		}
		m.Users = append(m.Users, ManifestEntry{
			UserID:     p.UserID,
			File:       name,
			TotalTurns: p.Counters.TotalTurns,
			UpdatedAt:  p.UpdatedAt,
		})
	}

	out, err := yaml.Marshal(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, ManifestName), out, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("writing manifest: %w", err)
	}

	s.logger.Info("backup written", "dir", target, "users", len(m.Users))
	return m, nil
}

// ReadManifest loads the manifest of a backup directory.
func ReadManifest(backupDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(backupDir, ManifestName))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}
