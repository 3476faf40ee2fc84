package orchestratornode

import (
	"context"
	"time"
)

// Timeouts bound every external call of a cycle. Zero disables the bound.
type Timeouts struct {
	Store     time.Duration
	Retrieval time.Duration
	Directory time.Duration
	Model     time.Duration
	Tool      time.Duration
}

func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
