package sync

import (
	"context"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/cleanup"
)

// CleanupMarketConsumer handles bus.KindCleanupMarket messages, delegating
// the cascade delete to the cleanup service (§4.8).
type CleanupMarketConsumer struct {
	cleanup *cleanup.Service
	now     func() time.Time
}

// NewCleanupMarketConsumer builds a CleanupMarketConsumer.
func NewCleanupMarketConsumer(c *cleanup.Service) *CleanupMarketConsumer {
	return &CleanupMarketConsumer{cleanup: c, now: time.Now}
}

// Handle cascades the delete for one ticker. Idempotent: a redelivered
// cleanup-market message for an already-cleaned ticker is a no-op (invariant 8).
func (c *CleanupMarketConsumer) Handle(ctx context.Context, ticker string) error {
	return c.cleanup.Clean(ctx, ticker, c.now())
}
