package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/stream"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T) (*stream.Redis, string, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := stream.NewRedis(client)
	streamKey, group := "hmsh:abc:x:abc.test", "abc.test-group"
	require.NoError(t, s.CreateGroup(context.Background(), streamKey, group))
	return s, streamKey, group
}

func TestPublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	s, streamKey, group := newTestStream(t)

	ids, err := s.PublishBatch(ctx, streamKey, []map[string]string{
		{"guid": "g1", "try": "0", "data": `{"a":"hello"}`},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	msgs, err := s.ConsumeBatch(ctx, streamKey, group, "consumer-1", stream.ConsumeOptions{
		BatchSize:    10,
		BlockTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "g1", msgs[0].Data["guid"])

	require.NoError(t, s.AckAndDelete(ctx, streamKey, group, []string{msgs[0].ID}))

	depths, err := s.Depth(ctx, streamKey, group)
	require.NoError(t, err)
	require.Equal(t, int64(0), depths.Total)
}

func TestConsumeBatch_EmptyReturnsNoMessages(t *testing.T) {
	ctx := context.Background()
	s, streamKey, group := newTestStream(t)

	msgs, err := s.ConsumeBatch(ctx, streamKey, group, "consumer-1", stream.ConsumeOptions{
		BatchSize:    10,
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestFeatures_ReportsPollingBackend(t *testing.T) {
	s, _, _ := newTestStream(t)
	f := s.Features()
	require.True(t, f.SupportsBatching)
	require.True(t, f.SupportsRetry)
	require.False(t, f.SupportsNotifications)
}
