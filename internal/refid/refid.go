package refid

import (
	"context"
	"fmt"
)

// AttemptCounter persists a monotonically increasing per-purchase attempt
// number alongside the purchase record.
type AttemptCounter interface {
	IncrementAttempt(ctx context.Context, purchaseID int64) (int, error)
}

// Generator produces reference order IDs that are globally unique per
// attempt. The processor permanently rejects a previously used reference ID
// even if that attempt failed, so callers must draw a fresh one for every
// create call and never retry with the same value.
type Generator struct {
	counter AttemptCounter
}

func NewGenerator(counter AttemptCounter) *Generator {
	return &Generator{counter: counter}
}

// Next returns "{purchaseID}_{attempt}" with a freshly incremented attempt.
func (g *Generator) Next(ctx context.Context, purchaseID int64) (string, error) {
	attempt, err := g.counter.IncrementAttempt(ctx, purchaseID)
	if err != nil {
		return "", fmt.Errorf("failed to increment attempt counter: %w", err)
	}
	return fmt.Sprintf("%d_%d", purchaseID, attempt), nil
}
