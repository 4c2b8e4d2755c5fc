package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/scheduler"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSemantic(t *testing.T) *store.Semantic {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := store.NewRedis(context.Background(), store.Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return store.NewSemantic(s, "hmsh", "abc")
}

type recordingDispatcher struct {
	mu     sync.Mutex
	tokens []store.TimeHookToken
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, token store.TimeHookToken) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func TestScheduler_DrainsDueBucketsWhileScout(t *testing.T) {
	sem := newTestSemantic(t)
	ctx := context.Background()

	due := time.Now().Add(-time.Second).UnixMilli()
	require.NoError(t, sem.RegisterTimeHook(ctx, store.TimeHookToken{
		Type: "sleep", ActivityID: "a1", GID: "g1", Dad: "", JobID: "j1",
	}, due))
	require.NoError(t, sem.RegisterTimeHook(ctx, store.TimeHookToken{
		Type: "sleep", ActivityID: "a1", GID: "g2", Dad: "", JobID: "j2",
	}, due))

	dispatcher := &recordingDispatcher{}
	sched := scheduler.New(sem, dispatcher, nil)
	sched.PollInterval = 10 * time.Millisecond

	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	go sched.Run(runCtx)
	<-runCtx.Done()

	require.Equal(t, 2, dispatcher.count())
}

func TestScheduler_ScoutExclusivity(t *testing.T) {
	sem := newTestSemantic(t)
	ctx := context.Background()

	first, err := sem.ReserveScoutRole(ctx, "time", 5)
	require.NoError(t, err)
	require.True(t, first)

	second, err := sem.ReserveScoutRole(ctx, "time", 5)
	require.NoError(t, err)
	require.False(t, second)
}

func TestSignal_AwaitThenDeliverResolvesJob(t *testing.T) {
	sem := newTestSemantic(t)
	ctx := context.Background()
	sched := scheduler.New(sem, nil, nil)

	ok, err := sched.AwaitSignal(ctx, "order.created", "abc123", "job-42", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	jobID, found, err := sched.DeliverSignal(ctx, "order.created", "abc123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "job-42", jobID)

	_, found, err = sched.DeliverSignal(ctx, "order.created", "abc123")
	require.NoError(t, err)
	require.False(t, found)
}
