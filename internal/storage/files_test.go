package storage

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func openTestFiles(t *testing.T) *Files {
	t.Helper()
	f, err := OpenFiles(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFiles: %v", err)
	}
	return f
}

func TestFiles_RoundTrip(t *testing.T) {
	f := openTestFiles(t)

	if _, err := f.Read("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read missing = %v, want ErrNotFound", err)
	}
	if err := f.Write("alice", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Write("alice", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read("alice")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("Read = %q, want latest write", got)
	}
}

func TestFiles_AwkwardIDs(t *testing.T) {
	f := openTestFiles(t)
	ids := []string{"../escape", "a/b", "Alice", "alice", "日本"}

	for _, id := range ids {
		if err := f.Write(id, []byte(id)); err != nil {
			t.Fatalf("Write(%q): %v", id, err)
		}
	}
	for _, id := range ids {
		got, err := f.Read(id)
		if err != nil {
			t.Fatalf("Read(%q): %v", id, err)
		}
		if string(got) != id {
			t.Errorf("Read(%q) = %q", id, got)
		}
	}

	listed, err := f.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != len(ids) {
		t.Errorf("List = %v, want %d ids", listed, len(ids))
	}

	entries, _ := os.ReadDir(filepath.Dir(f.Dir()))
	for _, e := range entries {
		if e.Name() != "profiles" {
			t.Errorf("unexpected entry %q outside profiles dir", e.Name())
		}
	}
}

func TestFiles_NoTempFilesLeft(t *testing.T) {
	f := openTestFiles(t)
	for i := 0; i < 10; i++ {
		if err := f.Write("u", []byte("data")); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(f.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("profiles dir = %v, want a single profile file", names)
	}
}

func TestFiles_FailedWriteKeepsOldCopy(t *testing.T) {
	f := openTestFiles(t)
	if err := f.Write("u", []byte("old")); err != nil {
		t.Fatal(err)
	}

	// CreateTemp fails when the directory is missing.
	broken := &Files{dir: filepath.Join(f.Dir(), "missing", "nested")}
	if err := broken.Write("u", []byte("new")); err == nil {
		t.Fatal("expected write into missing directory to fail")
	}

	got, err := f.Read("u")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "old" {
		t.Errorf("Read = %q, want old copy", got)
	}
}

func TestFiles_LongIDsUseDigestNames(t *testing.T) {
	f := openTestFiles(t)
	long := strings.Repeat("x", 120)
	huge := strings.Repeat("日本", 500)

	for _, id := range []string{"short", long, huge} {
		if _, err := f.Read(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Read(%d byte id) = %v, want ErrNotFound", len(id), err)
		}
		if err := f.Write(id, []byte(`{"user_id":"`+id+`"}`)); err != nil {
			t.Fatalf("Write(%d byte id): %v", len(id), err)
		}
	}

	for _, name := range []string{fileName(long), fileName(huge)} {
		if !strings.HasPrefix(name, hashedPrefix) || len(name) > 255 {
			t.Errorf("file name %q is not a digest name", name)
		}
	}
	if fileName("short") != hex.EncodeToString([]byte("short"))+profileExt {
		t.Errorf("short id name = %q", fileName("short"))
	}

	ids, err := f.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{long, "short", huge}
	sort.Strings(want)
	if len(ids) != len(want) {
		t.Fatalf("List returned %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("List[%d] has %d bytes, want %d", i, len(ids[i]), len(want[i]))
		}
	}

	if err := f.Delete(long); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.Read(long); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after Delete = %v, want ErrNotFound", err)
	}
}

func TestFiles_ListSkipsMismatchedDigestFiles(t *testing.T) {
	f := openTestFiles(t)
	long := strings.Repeat("y", 150)
	// A digest-named file whose user_id hashes elsewhere is not listed.
	if err := os.WriteFile(filepath.Join(f.Dir(), fileName(long)), []byte(`{"user_id":"someone-else"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.Dir(), hashedPrefix+"zz"+profileExt), []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	ids, err := f.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List = %v, want none", ids)
	}
}

func TestFiles_ListSkipsForeignFiles(t *testing.T) {
	f := openTestFiles(t)
	if err := f.Write("u", []byte("x")); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(f.Dir(), "notes.txt"), []byte("hi"), 0o644)
	os.WriteFile(filepath.Join(f.Dir(), "!!!.json"), []byte("hi"), 0o644)
	os.WriteFile(filepath.Join(f.Dir(), ".tmp-123"), []byte("hi"), 0o644)

	ids, err := f.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "u" {
		t.Errorf("List = %v, want [u]", ids)
	}
}

func TestFiles_DeleteIdempotent(t *testing.T) {
	f := openTestFiles(t)
	if err := f.Write("u", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete("u"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.Delete("u"); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
	if _, err := f.Read("u"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after Delete = %v, want ErrNotFound", err)
	}
}

func TestOpen_Kinds(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{KindFile, KindSQLite} {
		b, err := Open(kind, dir)
		if err != nil {
			t.Fatalf("Open(%q): %v", kind, err)
		}
		b.Close()
	}
	if _, err := Open("cassandra", dir); err == nil {
		t.Error("expected error for unknown backend")
	}
}
