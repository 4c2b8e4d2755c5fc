package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/engine"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/hotmeshio/hotmesh-go/stream"
	"github.com/hotmeshio/hotmesh-go/symbol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, err := store.NewRedis(context.Background(), store.Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	strm := stream.NewRedis(client)
	symbols := symbol.NewTable(s, "hmsh", "abc")
	return engine.New("abc", "hmsh", "engine-1", s, strm, symbols, nil)
}

func TestPub_CreatesRunningJob(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	jobID, err := e.Pub(ctx, "order.created", map[string]string{"sku": "A1"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	status, err := e.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, float64(1), status)
}

func TestInterrupt_MarksJobBelowFloor(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	jobID, err := e.Pub(ctx, "order.created", nil)
	require.NoError(t, err)

	require.NoError(t, e.Interrupt(ctx, jobID, engine.InterruptOptions{Reason: "cancelled", Code: "USER_CANCEL"}))

	status, err := e.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.LessOrEqual(t, status, float64(-1_000_000_000))
}

func TestScrub_DeletesJobHash(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	jobID, err := e.Pub(ctx, "order.created", nil)
	require.NoError(t, err)
	require.NoError(t, e.Scrub(ctx, jobID))

	_, err = e.GetStatus(ctx, jobID)
	require.Error(t, err)
}

func TestDispatch_FansOutToSubsAndPatterns(t *testing.T) {
	e := newTestEngine(t)

	var exact, wild int
	e.Sub("order.created", func(topic string, data map[string]interface{}) { exact++ })
	e.PSub("order.*", func(topic string, data map[string]interface{}) { wild++ })

	e.Dispatch("order.created", nil)
	require.Equal(t, 1, exact)
	require.Equal(t, 1, wild)

	e.Unsub("order.created")
	e.Dispatch("order.created", nil)
	require.Equal(t, 1, exact)
	require.Equal(t, 2, wild)
}

func TestPubSub_TimesOutWithoutResolution(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.PubSub(ctx, "order.created", nil, 30*time.Millisecond)
	require.Error(t, err)
}
