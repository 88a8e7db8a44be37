package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/attune/internal/profile"
	"github.com/kalambet/attune/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockSnapshotter creates numbered backup directories.
type mockSnapshotter struct {
	mu     sync.Mutex
	calls  int
	active atomic.Int32
	peak   atomic.Int32
	err    error
	delay  time.Duration
}

func (m *mockSnapshotter) Backup(ctx context.Context, dir string) (profile.Manifest, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	if n > m.peak.Load() {
		m.peak.Store(n)
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.err != nil {
		return profile.Manifest{}, m.err
	}
	target := filepath.Join(dir, fmt.Sprintf("%s%04d", dirPrefix, call))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return profile.Manifest{}, err
	}
	return profile.Manifest{Dir: target}, nil
}

func (m *mockSnapshotter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestWorker_RunOnceWithStore(t *testing.T) {
	backend, err := storage.OpenFiles(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFiles: %v", err)
	}
	store := profile.NewStore(backend)
	for _, id := range []string{"alice", "bob"} {
		if _, err := store.AppendTurn(id, profile.TurnRecord{ID: id + "-1", UserText: "hi", AgentReply: "hello"}); err != nil {
			t.Fatalf("AppendTurn(%s): %v", id, err)
		}
	}

	dir := t.TempDir()
	w := NewWorker(store, dir, 0, 0)
	m, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(m.Users) != 2 {
		t.Fatalf("manifest users = %d, want 2", len(m.Users))
	}

	read, err := profile.ReadManifest(m.Dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(read.Users) != 2 {
		t.Errorf("manifest on disk lists %d users, want 2", len(read.Users))
	}

	dirs, err := w.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(dirs) != 1 || dirs[0] != m.Dir {
		t.Errorf("List = %v, want [%s]", dirs, m.Dir)
	}
}

func TestWorker_Prunes(t *testing.T) {
	dir := t.TempDir()
	snap := &mockSnapshotter{}
	w := NewWorker(snap, dir, 0, 2)

	for i := 0; i < 5; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}

	dirs, err := w.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{
		filepath.Join(dir, dirPrefix+"0004"),
		filepath.Join(dir, dirPrefix+"0005"),
	}
	if len(dirs) != len(want) || dirs[0] != want[0] || dirs[1] != want[1] {
		t.Errorf("List = %v, want %v", dirs, want)
	}
}

func TestWorker_KeepZeroKeepsAll(t *testing.T) {
	snap := &mockSnapshotter{}
	w := NewWorker(snap, t.TempDir(), 0, 0)
	for i := 0; i < 3; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	dirs, _ := w.List()
	if len(dirs) != 3 {
		t.Errorf("len(List) = %d, want 3", len(dirs))
	}
}

func TestWorker_PruneIgnoresForeignDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "keep-me"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := NewWorker(&mockSnapshotter{}, dir, 0, 1)
	for i := 0; i < 3; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "keep-me")); err != nil {
		t.Errorf("foreign directory removed: %v", err)
	}
}

func TestWorker_SnapshotError(t *testing.T) {
	snap := &mockSnapshotter{err: errors.New("disk full")}
	w := NewWorker(snap, t.TempDir(), 0, 0)
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestWorker_ListMissingDir(t *testing.T) {
	w := NewWorker(&mockSnapshotter{}, filepath.Join(t.TempDir(), "absent"), 0, 0)
	dirs, err := w.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(dirs) != 0 {
		t.Errorf("List = %v, want empty", dirs)
	}
}

func TestWorker_RunDisabled(t *testing.T) {
	snap := &mockSnapshotter{}
	w := NewWorker(snap, t.TempDir(), 0, 0)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with zero interval did not return")
	}
	if snap.Calls() != 0 {
		t.Errorf("calls = %d, want 0", snap.Calls())
	}
}

func TestWorker_RunTicksUntilCancelled(t *testing.T) {
	snap := &mockSnapshotter{}
	w := NewWorker(snap, t.TempDir(), 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for snap.Calls() < 2 {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("calls = %d after 2s, want >= 2", snap.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestWorker_RunOnceSerialized(t *testing.T) {
	snap := &mockSnapshotter{delay: 5 * time.Millisecond}
	w := NewWorker(snap, t.TempDir(), 0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.RunOnce(context.Background()); err != nil {
				t.Errorf("RunOnce: %v", err)
			}
		}()
	}
	wg.Wait()
	if snap.peak.Load() != 1 {
		t.Errorf("peak concurrent backups = %d, want 1", snap.peak.Load())
	}
}
