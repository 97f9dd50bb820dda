package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/cachelock"
	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/aristath/kalshi-sentinel/internal/store"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *bus.Manager) {
	t.Helper()
	dbs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)

	b := bus.NewManager(dbs.Ops.Conn(), testLogger())
	locker := cachelock.NewLocker(dbs.Ops.Conn())
	counter := cachelock.NewCounter(dbs.Ops.Conn())
	syncLog := store.NewSyncLogRepo(dbs)
	return New(b, locker, counter, syncLog, time.Minute, testLogger()), b
}

func TestEnqueueMarketSnapshotSync_PublishesAndAcquiresLock(t *testing.T) {
	ctx := context.Background()
	d, b := newTestDispatcher(t)

	id, err := d.EnqueueMarketSnapshotSync(ctx, MarketSnapshotFilters{Status: "open"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := d.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.IsRunning)
	require.Equal(t, 1, status.PendingJobs)

	require.Equal(t, 1, b.Stats(ctx, bus.KindSyncMarketSnapshots).Messages)
}

func TestEnqueueMarketSnapshotSync_SecondCallWhileRunningIsRejected(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	_, err := d.EnqueueMarketSnapshotSync(ctx, MarketSnapshotFilters{})
	require.NoError(t, err)

	_, err = d.EnqueueMarketSnapshotSync(ctx, MarketSnapshotFilters{})
	require.ErrorIs(t, err, domain.ErrAlreadyInProgress)
}

func TestContinueMarketSnapshotSync_IncrementsCounterWithoutReacquiringLock(t *testing.T) {
	ctx := context.Background()
	d, b := newTestDispatcher(t)

	_, err := d.EnqueueMarketSnapshotSync(ctx, MarketSnapshotFilters{})
	require.NoError(t, err)

	_, err = d.ContinueMarketSnapshotSync(ctx, MarketSnapshotFilters{Cursor: "page-2"})
	require.NoError(t, err)

	status, err := d.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.PendingJobs)
	require.Equal(t, 2, b.Stats(ctx, bus.KindSyncMarketSnapshots).Messages)
}

func TestCompleteMarketSnapshotMessage_ReleasesLockOnceCounterDrainsToZero(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	_, err := d.EnqueueMarketSnapshotSync(ctx, MarketSnapshotFilters{})
	require.NoError(t, err)
	_, err = d.ContinueMarketSnapshotSync(ctx, MarketSnapshotFilters{Cursor: "page-2"})
	require.NoError(t, err)

	require.NoError(t, d.CompleteMarketSnapshotMessage(ctx))
	status, err := d.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.IsRunning, "one message still pending, lock must stay held")

	require.NoError(t, d.CompleteMarketSnapshotMessage(ctx))
	status, err = d.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.IsRunning, "last pending message completed, lock must be released")
	require.Equal(t, 0, status.PendingJobs)

	// lock released means a fresh sync can now start
	_, err = d.EnqueueMarketSnapshotSync(ctx, MarketSnapshotFilters{})
	require.NoError(t, err)
}

func TestEnqueueTagsCategoriesSync_Publishes(t *testing.T) {
	ctx := context.Background()
	d, b := newTestDispatcher(t)

	_, err := d.EnqueueTagsCategoriesSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, b.Stats(ctx, bus.KindSyncMarketCategories).Messages)
}

func TestEnqueueEventDetailSync_PublishesOneMessagePerTicker(t *testing.T) {
	ctx := context.Background()
	d, b := newTestDispatcher(t)

	ids, err := d.EnqueueEventDetailSync(ctx, []string{"EVT-1", "EVT-2", "EVT-3"})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Equal(t, 3, b.Stats(ctx, bus.KindSyncEventDetail).Messages)
}

func TestEnqueueCleanup_PublishesOneMessagePerTicker(t *testing.T) {
	ctx := context.Background()
	d, b := newTestDispatcher(t)

	ids, err := d.EnqueueCleanup(ctx, []string{"TICK-A", "TICK-B"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, 2, b.Stats(ctx, bus.KindCleanupMarket).Messages)
}
