package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
)

const (
	// learningSaturation is the turn count at which learning progression
	// reaches 1.
	learningSaturation = 100
	activeWithin       = 7 * 24 * time.Hour
	loadConcurrency    = 8
	globalCacheTTL     = 5 * time.Second
)

// UserStats is the read-only view of one user returned by Stats.
type UserStats struct {
	UserID             string              `json:"user_id" yaml:"user_id"`
	TotalConversations int                 `json:"total_conversations" yaml:"total_conversations"`
	Personality        personality.Vector  `json:"personality_vector" yaml:"personality_vector"`
	AverageQuality     float64             `json:"average_quality" yaml:"average_quality"`
	CumulativeDelta    personality.Delta   `json:"per_dimension_cumulative_delta" yaml:"per_dimension_cumulative_delta"`
	Evolution          EvolutionMetrics    `json:"evolution" yaml:"evolution"`
	Summary            personality.Summary `json:"summary" yaml:"summary"`
	Trend              evaluation.Trend    `json:"trend" yaml:"trend"`
	LastActive         time.Time           `json:"last_active,omitempty" yaml:"last_active,omitempty"`
}

// EvolutionMetrics describe how much a user's personality has moved.
type EvolutionMetrics struct {
	TotalAdaptations    int     `json:"total_adaptations" yaml:"total_adaptations"`
	LargestChange       Change  `json:"largest_change" yaml:"largest_change"`
	LearningProgression float64 `json:"learning_progression" yaml:"learning_progression"`
}

// GlobalStats aggregate every stored profile.
type GlobalStats struct {
	TotalUsers           int                `json:"total_users" yaml:"total_users"`
	TotalConversations   int                `json:"total_conversations" yaml:"total_conversations"`
	AverageConversations float64            `json:"average_conversations_per_user" yaml:"average_conversations_per_user"`
	ActiveUsers          int                `json:"active_users_7d" yaml:"active_users_7d"`
	AveragePersonality   personality.Vector `json:"average_personality" yaml:"average_personality"`
	AverageQuality       float64            `json:"average_quality" yaml:"average_quality"`
	ComputedAt           time.Time          `json:"computed_at" yaml:"computed_at"`
}

// Stats returns the user's statistics without changing anything. A user
// with no stored profile reports cold-start values.
func (s *Store) Stats(userID string) (UserStats, error) {
	p, err := s.Load(userID)
	if err != nil {
		return UserStats{}, err
	}
	return s.statsOf(p), nil
}

func (s *Store) statsOf(p Profile) UserStats {
	samples := p.Samples()
	if over := len(samples) - s.window; over > 0 {
		samples = samples[over:]
	}
	st := UserStats{
		UserID:             p.UserID,
		TotalConversations: p.Counters.TotalTurns,
		Personality:        p.Personality,
		AverageQuality:     p.AverageQuality(),
		CumulativeDelta:    p.Counters.CumulativeDelta,
		Evolution: EvolutionMetrics{
			TotalAdaptations:    p.Counters.Adaptations,
			LargestChange:       p.Counters.LargestChange,
			LearningProgression: float64(min(p.Counters.TotalTurns, learningSaturation)) / learningSaturation,
		},
		Summary: personality.Summarize(p.Personality),
		Trend:   evaluation.Summarize(samples, s.weights, s.maxStep),
	}
	if p.Counters.TotalTurns > 0 {
		st.LastActive = p.UpdatedAt
	}
	return st
}

// globalCache collapses concurrent GlobalStats scans into one and keeps
// the result briefly. Any commit invalidates it.
type globalCache struct {
	group singleflight.Group

	mu    sync.Mutex
	stats *GlobalStats
	at    time.Time
	gen   uint64
}

func (c *globalCache) get(now time.Time) (GlobalStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil || now.Sub(c.at) > globalCacheTTL {
		return GlobalStats{}, false
	}
	return *c.stats, true
}

func (c *globalCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// put stores stats computed at generation gen unless a commit happened since.
func (c *globalCache) put(gs GlobalStats, gen uint64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.stats = &gs
	c.at = now
}

func (c *globalCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stats = nil
}

// GlobalStats aggregates every stored profile. It only reads.
func (s *Store) GlobalStats(ctx context.Context) (GlobalStats, error) {
	if gs, ok := s.global.get(s.clock.Now()); ok {
		return gs, nil
	}
	v, err, _ := s.global.group.Do("global", func() (any, error) {
		gen := s.global.generation()
		gs, err := s.computeGlobal(ctx)
		if err != nil {
			return GlobalStats{}, err
		}
		s.global.put(gs, gen, s.clock.Now())
		return gs, nil
	})
	if err != nil {
		return GlobalStats{}, err
	}
	return v.(GlobalStats), nil
}

func (s *Store) computeGlobal(ctx context.Context) (GlobalStats, error) {
	profiles, err := s.loadAll(ctx)
	if err != nil {
		return GlobalStats{}, err
	}

	now := s.clock.Now()
	gs := GlobalStats{TotalUsers: len(profiles), ComputedAt: now}
	if len(profiles) == 0 {
		gs.AveragePersonality = personality.Default()
		return gs, nil
	}

	var qualitySum float64
	sums := make([]float64, len(personality.Dimensions))
	for _, p := range profiles {
		gs.TotalConversations += p.Counters.TotalTurns
		qualitySum += p.Counters.QualitySum
		if p.Counters.TotalTurns > 0 && now.Sub(p.UpdatedAt) <= activeWithin {
			gs.ActiveUsers++
		}
		for i, d := range personality.Dimensions {
			sums[i] += p.Personality.Get(d)
		}
	}
	n := float64(len(profiles))
	gs.AverageConversations = float64(gs.TotalConversations) / n
	for i, d := range personality.Dimensions {
		gs.AveragePersonality.Set(d, sums[i]/n)
	}
	if gs.TotalConversations > 0 {
		gs.AverageQuality = qualitySum / float64(gs.TotalConversations)
	}
	return gs, nil
}

// loadAll loads every stored profile with bounded concurrency, in the
// backend's listing order.
func (s *Store) loadAll(ctx context.Context) ([]Profile, error) {
	ids, err := s.backend.List()
	if err != nil {
		return nil, &errdefs.PersistenceError{Op: "list", Err: err}
	}

	profiles := make([]Profile, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := s.Load(id)
			if err != nil {
				return fmt.Errorf("loading %q: %w", id, err)
			}
			profiles[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}
