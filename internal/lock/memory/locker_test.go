package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

func TestAcquireExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker := New()
	release, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.ErrorIs(t, err, crawler.ErrLocked)

	_, err = locker.Acquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
}

func TestExpiredLeaseCanBeTaken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1000, 0)
	locker := New()
	locker.now = func() time.Time { return now }

	staleRelease, err := locker.Acquire(ctx, "job-1", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	// The stale holder must not drop the new lease.
	require.NoError(t, staleRelease(ctx))
	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.ErrorIs(t, err, crawler.ErrLocked)
}
