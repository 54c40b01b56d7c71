package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/codeready-toolchain/verihub/pkg/models"
)

// newTestSource starts a disposable Redis container and returns a ready
// RedisSource, mirroring pkg/store's testcontainers-backed newTestStore.
func newTestSource(t *testing.T) *RedisSource {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	src, err := NewRedisSource(url, "verihub:jobs:test", "verihub:jobs:test:processing")
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestRedisSource_PublishReceiveAck(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()

	job := models.Job{CompanyID: "c-1", RetryMode: models.RetryFull, Timestamp: time.Now().UTC()}
	require.NoError(t, src.Publish(ctx, job))

	msg, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "c-1", msg.Job.CompanyID)
	require.NotEmpty(t, msg.Job.CorrelationID)

	require.NoError(t, src.Ack(ctx, msg))

	depth, err := src.client.LLen(ctx, src.processingKey).Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)
}

func TestRedisSource_ReceiveTimesOutWhenEmpty(t *testing.T) {
	src := newTestSource(t)
	_, err := src.Receive(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestRedisSource_RedeliverMakesJobReceivableAgain(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, src.Publish(ctx, models.Job{CompanyID: "c-2"}))
	msg, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, src.Redeliver(ctx, msg))

	redelivered, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "c-2", redelivered.Job.CompanyID)
}

func TestRedisSource_ReapRecoversStaleProcessingEntries(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, src.Publish(ctx, models.Job{CompanyID: "c-3"}))
	_, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)

	// The entry is now in the processing list, claimed "now" — reaping with
	// a zero staleness threshold should recover it immediately.
	n, err := src.Reap(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recovered, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "c-3", recovered.Job.CompanyID)
}

func TestRedisSource_ReapLeavesFreshEntriesAlone(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, src.Publish(ctx, models.Job{CompanyID: "c-4"}))
	_, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)

	n, err := src.Reap(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
