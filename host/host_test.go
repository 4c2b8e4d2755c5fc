package host_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/engine"
	"github.com/hotmeshio/hotmesh-go/host"
	"github.com/hotmeshio/hotmesh-go/quorum"
	"github.com/hotmeshio/hotmesh-go/scheduler"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/hotmeshio/hotmesh-go/stream"
	"github.com/hotmeshio/hotmesh-go/symbol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestHost_StartAndShutdown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, err := store.NewRedis(context.Background(), store.Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sem := store.NewSemantic(s, "hmsh", "abc")
	strm := stream.NewRedis(client)
	symbols := symbol.NewTable(s, "hmsh", "abc")

	e := engine.New("abc", "hmsh", "engine-1", s, strm, symbols, nil)
	sched := scheduler.New(sem, nil, nil)
	sched.PollInterval = 10 * time.Millisecond
	q := quorum.New(client, "abc", "engine-1", nil)

	h := host.New(e, sched, q, nil)

	ctx := context.Background()
	h.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(shutdownCtx))
	require.Empty(t, h.Errors())
}
