package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hotmeshio/hotmesh-go/errs"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/stretchr/testify/require"
)

func newSemantic(t *testing.T) *store.Semantic {
	t.Helper()
	return store.NewSemantic(newTestStore(t), "hmsh", "abc")
}

func TestThrottleRate_ClampsToBounds(t *testing.T) {
	ctx := context.Background()
	sem := newSemantic(t)

	require.NoError(t, sem.SetThrottleRate(ctx, "", -1))
	rate, err := sem.GetThrottleRate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, store.MaxDelay, rate)

	require.NoError(t, sem.SetThrottleRate(ctx, "abc.test", 500))
	rate, err = sem.GetThrottleRate(ctx, "abc.test")
	require.NoError(t, err)
	require.Equal(t, 500, rate)
}

func TestThrottleRate_TopicOverridesGlobal(t *testing.T) {
	ctx := context.Background()
	sem := newSemantic(t)

	require.NoError(t, sem.SetThrottleRate(ctx, "", 100))
	require.NoError(t, sem.SetThrottleRate(ctx, "abc.test", 50))

	rate, err := sem.GetThrottleRate(ctx, "abc.test")
	require.NoError(t, err)
	require.Equal(t, 50, rate)

	rate, err = sem.GetThrottleRate(ctx, "other.topic")
	require.NoError(t, err)
	require.Equal(t, 100, rate)
}

func TestInterrupt_MonotonicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	sem := newSemantic(t)

	require.NoError(t, sem.Store.HSet(ctx, "hmsh:abc:j:job1", map[string]string{":": "3"}))

	err := sem.Interrupt(ctx, "job1", store.InterruptOptions{Throw: true, Code: "HMSH_CODE_INTERRUPT", Reason: "stopped"})
	require.NoError(t, err)

	status, err := sem.GetStatus(ctx, "job1")
	require.NoError(t, err)
	require.LessOrEqual(t, status, float64(-1_000_000_000))

	err = sem.Interrupt(ctx, "job1", store.InterruptOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrInterrupt))
}

func TestInterrupt_NotFound(t *testing.T) {
	ctx := context.Background()
	sem := newSemantic(t)

	err := sem.Interrupt(ctx, "missing", store.InterruptOptions{})
	require.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestTimeHook_FIFOWithinBucket(t *testing.T) {
	ctx := context.Background()
	sem := newSemantic(t)

	first := store.TimeHookToken{Type: "sleep", ActivityID: "a1", GID: "g1", Dad: "0", JobID: "job1"}
	second := store.TimeHookToken{Type: "sleep", ActivityID: "a2", GID: "g2", Dad: "0", JobID: "job2"}

	require.NoError(t, sem.RegisterTimeHook(ctx, first, 100))
	require.NoError(t, sem.RegisterTimeHook(ctx, second, 100))

	tok, drained, found, err := sem.GetNextTask(ctx, 200)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, drained)
	require.Equal(t, first, tok)

	tok, drained, found, err = sem.GetNextTask(ctx, 200)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, drained)
	require.Equal(t, second, tok)
}
