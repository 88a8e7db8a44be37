package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	profileExt = ".json"

	// hashedPrefix marks files named by a digest of the user id. It is not
	// valid hex, so the two naming schemes never collide.
	hashedPrefix = "sha256-"

	// maxHexName keeps hex names well inside the common 255 byte limit.
	maxHexName = 200
)

// Files stores one JSON document per user under a directory. User ids are
// hex-encoded into file names so any id maps to one safe path, also on
// case-insensitive file systems. Ids too long for that are named by their
// SHA-256 digest, and List recovers them from the record's user_id.
type Files struct {
	dir string
}

var _ Backend = (*Files)(nil)

// OpenFiles prepares dir/profiles for use.
func OpenFiles(dataDir string) (*Files, error) {
	dir := filepath.Join(dataDir, "profiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profiles directory: %w", err)
	}
	return &Files{dir: dir}, nil
}

// Dir returns the directory holding profile files.
func (f *Files) Dir() string { return f.dir }

func (f *Files) path(userID string) string {
	return filepath.Join(f.dir, fileName(userID))
}

func fileName(userID string) string {
	if name := hex.EncodeToString([]byte(userID)); len(name) <= maxHexName {
		return name + profileExt
	}
	sum := sha256.Sum256([]byte(userID))
	return hashedPrefix + hex.EncodeToString(sum[:]) + profileExt
}

func (f *Files) Read(userID string) ([]byte, error) {
	data, err := os.ReadFile(f.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Write replaces the user's file by writing a temp file in the same
// directory and renaming it over the old one.
func (f *Files) Write(userID string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(userID)); err != nil {
		return fmt.Errorf("replacing profile file: %w", err)
	}
	return nil
}

func (f *Files) Delete(userID string) error {
	err := os.Remove(f.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the ids of all stored profiles in ascending order. Files
// whose names do not decode are skipped.
func (f *Files) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading profiles directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, profileExt) {
			continue
		}
		stem := strings.TrimSuffix(name, profileExt)
		if strings.HasPrefix(stem, hashedPrefix) {
			if id, ok := f.recordedID(name); ok {
				ids = append(ids, id)
			}
			continue
		}
		raw, err := hex.DecodeString(stem)
		if err != nil {
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}

// recordedID reads the user id stored inside a digest-named file. The file
// only counts if the id hashes back to its name.
func (f *Files) recordedID(name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return "", false
	}
	var rec struct {
		UserID string `json:"user_id"`
	}
	if json.Unmarshal(data, &rec) != nil || rec.UserID == "" || fileName(rec.UserID) != name {
		return "", false
	}
	return rec.UserID, true
}

func (f *Files) Close() error { return nil }
