// Package reply produces the agent's reply for a turn. The pipeline treats
// a Generator as an opaque external collaborator.
package reply

import (
	"context"

	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
)

// Request is the input to a Generator.
type Request struct {
	UserText    string
	Personality personality.Vector
	History     []evaluation.Exchange // oldest first
}

// Generator turns a request into reply text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
