package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/profile"
	"github.com/kalambet/attune/internal/reply"
	"github.com/kalambet/attune/internal/signals"
)

// DegradedReply is what the caller receives when reply generation fails.
const DegradedReply = "I'm still learning! Try again!"

// DefaultReplyTimeout bounds a single reply generation call.
const DefaultReplyTimeout = 10 * time.Second

// Stage is a step of processing one message.
type Stage int

const (
	Received Stage = iota
	SignalsExtracted
	VectorAdapted
	ReplyGenerated
	Evaluated
	Persisted
)

var stageNames = [...]string{"RECEIVED", "SIGNALS_EXTRACTED", "VECTOR_ADAPTED", "REPLY_GENERATED", "EVALUATED", "PERSISTED"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	for i, n := range stageNames {
		if n == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// Result is the outcome of ProcessMessage.
type Result struct {
	TurnID           string             `json:"turn_id,omitempty"`
	AgentResponse    string             `json:"agent_response"`
	EvolutionChanges map[string]float64 `json:"evolution_changes"`
	Personality      personality.Vector `json:"personality_vector"`
	Quality          evaluation.Report  `json:"quality_report"`
	Trend            evaluation.Trend   `json:"trend"`
	Stage            Stage              `json:"stage"`
	Degraded         bool               `json:"degraded,omitempty"`
	DurationMs       int64              `json:"duration_ms"`
}

// Evolver runs the per-message pipeline: extract signals, adapt the
// personality, generate a reply, evaluate it, and commit the turn.
// Nothing is committed unless every step succeeds.
type Evolver struct {
	store     *profile.Store
	extractor signals.Extractor
	generator reply.Generator
	evaluator *evaluation.Evaluator
	tracker   *evaluation.Tracker
	cfg       personality.Config

	replyTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures an Evolver.
type Option func(*Evolver)

// WithReplyTimeout bounds each reply generation call.
func WithReplyTimeout(d time.Duration) Option {
	return func(e *Evolver) {
		if d > 0 {
			e.replyTimeout = d
		}
	}
}

// WithStabilityWindow sets how many turns the trend tracker keeps per user.
func WithStabilityWindow(n int) Option {
	return func(e *Evolver) {
		e.tracker = evaluation.NewTracker(n, e.cfg.MaxEvolutionPerTurn, e.evaluator.Weights())
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evolver) { e.logger = l }
}

// WithNow replaces the clock used for timestamps and latency (for testing).
func WithNow(now func() time.Time) Option {
	return func(e *Evolver) { e.now = now }
}

// NewEvolver creates an Evolver wired to all pipeline components. A nil
// extractor uses the lexical extractor.
func NewEvolver(
	store *profile.Store,
	extractor signals.Extractor,
	generator reply.Generator,
	evaluator *evaluation.Evaluator,
	cfg personality.Config,
	opts ...Option,
) *Evolver {
	if extractor == nil {
		extractor = signals.NewLexical()
	}
	e := &Evolver{
		store:        store,
		extractor:    extractor,
		generator:    generator,
		evaluator:    evaluator,
		cfg:          cfg,
		replyTimeout: DefaultReplyTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	e.tracker = evaluation.NewTracker(evaluation.DefaultStabilityWindow, cfg.MaxEvolutionPerTurn, evaluator.Weights())
	for _, o := range opts {
		o(e)
	}
	return e
}

// ProcessMessage handles one message from userID. An empty user id is a
// ValidationError and touches nothing. A failed reply generation returns a
// CollaboratorError together with a degraded Result; the stored profile is
// left exactly as it was.
func (e *Evolver) ProcessMessage(ctx context.Context, userID, text string) (res Result, err error) {
	start := e.now()
	defer func() {
		res.DurationMs = e.now().Sub(start).Milliseconds()
	}()

	if strings.TrimSpace(userID) == "" {
		return Result{}, errdefs.Validation("user_id", "must not be empty")
	}

	stage := Received
	var turn Result

	_, err = e.store.Update(ctx, userID, func(ctx context.Context, p *profile.Profile) error {
		// 1. Extract signals.
		set := e.extractor.Extract(text)
		stage = SignalsExtracted

		// 2. Adapt the vector. Not committed until the turn is persisted.
		next, delta := personality.Adapt(p.Personality, set, e.cfg)
		stage = VectorAdapted

		// 3. Generate the reply with the adapted personality.
		history := p.Exchanges()
		replyStart := e.now()
		answer, err := e.generate(ctx, reply.Request{UserText: text, Personality: next, History: history})
		if err != nil {
			return &errdefs.CollaboratorError{Stage: "reply_generation", Err: err}
		}
		latency := e.now().Sub(replyStart).Seconds()
		stage = ReplyGenerated

		// 4. Evaluate.
		report := e.evaluator.Evaluate(evaluation.TurnContext{
			UserText:       text,
			AgentReply:     answer,
			Personality:    next,
			LatencySeconds: latency,
			History:        history,
		})
		stage = Evaluated

		// 5. Stage the commit: vector and turn record go out in one write.
		if !e.tracker.Seeded(userID) {
			e.tracker.Seed(userID, p.Samples())
		}
		rec := profile.TurnRecord{
			ID:             uuid.NewString(),
			Timestamp:      e.now().UTC(),
			UserText:       text,
			AgentReply:     answer,
			Signals:        set,
			Delta:          delta,
			Scores:         report.Scores,
			LatencySeconds: latency,
		}
		p.Personality = next
		p.AppendTurn(rec, e.store.Retention(), report.Overall)

		turn = Result{
			TurnID:           rec.ID,
			AgentResponse:    answer,
			EvolutionChanges: delta.Map(),
			Personality:      next,
			Quality:          report,
			Trend:            e.tracker.Observe(userID, evaluation.Sample{Scores: report.Scores, Delta: delta}),
		}
		return nil
	})

	if err != nil {
		if stage >= Evaluated {
			// The tracker saw a turn that was never committed.
			e.tracker.Forget(userID)
		}
		var cerr *errdefs.CollaboratorError
		if errors.As(err, &cerr) {
			e.logger.Warn("reply generation failed, turn aborted",
				"user_id", userID, "stage", stage, "error", err)
			return Result{AgentResponse: DegradedReply, EvolutionChanges: map[string]float64{}, Stage: stage, Degraded: true}, err
		}
		e.logger.Error("turn failed", "user_id", userID, "stage", stage, "error", err)
		return Result{Stage: stage}, err
	}

	turn.Stage = Persisted
	e.logger.Debug("turn persisted",
		"user_id", userID,
		"turn_id", turn.TurnID,
		"overall", turn.Quality.Overall,
		"changes", len(turn.EvolutionChanges),
	)
	return turn, nil
}

func (e *Evolver) generate(ctx context.Context, req reply.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.replyTimeout)
	defer cancel()
	return e.generator.Generate(ctx, req)
}

// Reset deletes the user's profile and forgets their trend.
func (e *Evolver) Reset(userID string) error {
	if err := e.store.Delete(userID); err != nil {
		return err
	}
	e.tracker.Forget(userID)
	return nil
}
