package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/storage"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store owns every user's profile. It is the only component that touches
// the durable backend. Operations on one user are serialized; operations
// on different users never wait on each other.
type Store struct {
	backend   storage.Backend
	clock     Clock
	logger    *slog.Logger
	retention int
	weights   evaluation.Weights
	window    int
	maxStep   float64

	locks  keyedMutex
	global globalCache
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock (for testing).
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithRetention sets how many turns each profile keeps.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithWeights sets the weights used to derive overall quality.
func WithWeights(w evaluation.Weights) Option {
	return func(s *Store) { s.weights = w }
}

// WithTrend sets the trailing window and per-turn step bound used for
// stability reporting.
func WithTrend(window int, maxStep float64) Option {
	return func(s *Store) {
		if window > 0 {
			s.window = window
		}
		if maxStep > 0 {
			s.maxStep = maxStep
		}
	}
}

// WithLogger sets the logger used for recovered corruption.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store over backend.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		clock:     realClock{},
		logger:    slog.Default(),
		retention: DefaultRetention,
		weights:   evaluation.DefaultWeights(),
		window:    evaluation.DefaultStabilityWindow,
		maxStep:   0.2,
		locks:     keyedMutex{locks: make(map[string]*refLock)},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Retention returns the number of turns kept per profile.
func (s *Store) Retention() int { return s.retention }

// Weights returns the weights used for overall quality.
func (s *Store) Weights() evaluation.Weights { return s.weights }

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errdefs.Validation("user_id", "must not be empty")
	}
	return nil
}

// Load returns the user's profile. A user never seen before gets a fresh
// default profile, which is not written until the first commit. An
// unreadable record is replaced by a default profile and logged.
func (s *Store) Load(userID string) (Profile, error) {
	if err := validateUserID(userID); err != nil {
		return Profile{}, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.load(userID)
}

func (s *Store) load(userID string) (Profile, error) {
	data, err := s.backend.Read(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return newProfile(userID, s.clock.Now()), nil
	}
	if err != nil {
		return Profile{}, &errdefs.PersistenceError{UserID: userID, Op: "read", Err: err}
	}

	p, err := s.decode(userID, data)
	if err != nil {
		cerr := &errdefs.CorruptProfileError{UserID: userID, Err: err}
		s.logger.Warn("corrupt profile, starting fresh", "user_id", userID, "error", cerr)
		return newProfile(userID, s.clock.Now()), nil
	}
	return p, nil
}

func (s *Store) decode(userID string, data []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	if p.UserID != "" && p.UserID != userID {
		return Profile{}, fmt.Errorf("record belongs to %q", p.UserID)
	}
	p.UserID = userID
	if !p.Personality.Valid() {
		s.logger.Warn("profile vector out of range, clamping", "user_id", userID)
		p.Personality = p.Personality.Clamped()
	}
	if over := len(p.Turns) - s.retention; over > 0 {
		p.Turns = p.Turns[over:]
	}
	return p, nil
}

// Save writes the whole profile. The backend replaces the previous copy
// atomically, so a failed Save leaves the last good copy in place.
func (s *Store) Save(userID string, p Profile) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.save(userID, &p)
}

func (s *Store) save(userID string, p *Profile) error {
	p.UserID = userID
	p.SchemaVersion = SchemaVersion
	p.UpdatedAt = s.clock.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return &errdefs.PersistenceError{UserID: userID, Op: "encode", Err: err}
	}

	tl, logged := s.backend.(storage.TurnLogger)
	if logged && len(p.appended) > 0 {
		entries := make([]storage.LogEntry, 0, len(p.appended))
		for _, rec := range p.appended {
			e, err := logEntry(rec)
			if err != nil {
				return &errdefs.PersistenceError{UserID: userID, Op: "encode", Err: err}
			}
			entries = append(entries, e)
		}
		err = tl.WriteWithLog(userID, data, entries)
	} else {
		err = s.backend.Write(userID, data)
	}
	if err != nil {
		return &errdefs.PersistenceError{UserID: userID, Op: "write", Err: err}
	}
	p.appended = nil
	s.global.invalidate()
	return nil
}

func logEntry(rec TurnRecord) (storage.LogEntry, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return storage.LogEntry{}, err
	}
	return storage.LogEntry{ID: rec.ID, CreatedAt: rec.Timestamp, Payload: string(payload)}, nil
}

// AppendTurn adds rec to the user's profile, evicting the oldest turn when
// the retention window is full, and persists the result.
func (s *Store) AppendTurn(userID string, rec TurnRecord) (Profile, error) {
	return s.Update(context.Background(), userID, func(_ context.Context, p *Profile) error {
		p.AppendTurn(rec, s.retention, rec.Scores.Overall(s.weights))
		return nil
	})
}

// Update runs fn on the user's profile while holding that user's lock and
// persists the result only if fn succeeds. Either the whole mutation is
// committed or nothing is.
func (s *Store) Update(ctx context.Context, userID string, fn func(context.Context, *Profile) error) (Profile, error) {
	if err := validateUserID(userID); err != nil {
		return Profile{}, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	p, err := s.load(userID)
	if err != nil {
		return Profile{}, err
	}
	if err := fn(ctx, &p); err != nil {
		return Profile{}, err
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	if err := s.save(userID, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Delete removes the user's durable record and turn history. Deleting an
// unknown user is not an error.
func (s *Store) Delete(userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.backend.Delete(userID); err != nil {
		return &errdefs.PersistenceError{UserID: userID, Op: "delete", Err: err}
	}
	s.global.invalidate()
	return nil
}

// History returns up to limit turns for userID, newest first. Backends
// with a turn log answer from the log, which outlives retention.
func (s *Store) History(userID string, limit int) ([]TurnRecord, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if tl, ok := s.backend.(storage.TurnLogger); ok {
		entries, err := tl.TurnLog(userID, limit)
		if err != nil {
			return nil, &errdefs.PersistenceError{UserID: userID, Op: "read log", Err: err}
		}
		out := make([]TurnRecord, 0, len(entries))
		for _, e := range entries {
			var rec TurnRecord
			if err := json.Unmarshal([]byte(e.Payload), &rec); err != nil {
				s.logger.Warn("malformed turn log entry, skipping", "user_id", userID, "id", e.ID, "error", err)
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	}

	p, err := s.Load(userID)
	if err != nil {
		return nil, err
	}
	out := make([]TurnRecord, 0, len(p.Turns))
	for i := len(p.Turns) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, p.Turns[i])
	}
	return out, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is held and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
