package symbol_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/hotmeshio/hotmesh-go/symbol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *symbol.Table {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := store.NewRedis(context.Background(), store.Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return symbol.NewTable(s, "hmsh", "abc")
}

func TestReserveRange_FirstCallerOwnsRange(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	res, err := table.ReserveRange(ctx, "activity1", 100, symbol.TargetActivity)
	require.NoError(t, err)
	require.Equal(t, symbol.MetadataSlots, res.Lower)
	require.Equal(t, 99, res.Upper)
	require.Empty(t, res.Existing)
}

func TestReserveRange_MonotonicCursor(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	res1, err := table.ReserveRange(ctx, "activity1", 50, symbol.TargetActivity)
	require.NoError(t, err)

	res2, err := table.ReserveRange(ctx, "activity2", 50, symbol.TargetActivity)
	require.NoError(t, err)

	require.Greater(t, res2.Lower, res1.Lower)
}

func TestReserveRange_SecondCallerReadsStableRange(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	first, err := table.ReserveRange(ctx, "activity1", 100, symbol.TargetActivity)
	require.NoError(t, err)

	second, err := table.ReserveRange(ctx, "activity1", 100, symbol.TargetActivity)
	require.NoError(t, err)

	require.Equal(t, first.Upper, second.Upper)
}

func TestReserveRange_UniqueAcrossConcurrentCallers(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	lowers := make([]int, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := table.ReserveRange(ctx, "shared-target-does-not-exist-yet", 10, symbol.TargetActivity)
			lowers[i] = res.Lower
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for i := 1; i < n; i++ {
		require.Equal(t, lowers[0], lowers[i], "all callers for the same target converge on the same stabilized range")
	}
}

func TestSeedMetadata_StableAcrossReservations(t *testing.T) {
	ctx := context.Background()

	table1 := newTestTable(t)
	res1, err := table1.ReserveRange(ctx, "activity1", 100, symbol.TargetActivity)
	require.NoError(t, err)
	sym1, ok, err := table1.PathToSymbol(ctx, "activity1", "activity1/output/metadata/aid")
	require.NoError(t, err)
	require.True(t, ok)

	table2 := newTestTable(t)
	res2, err := table2.ReserveRange(ctx, "activity1", 100, symbol.TargetActivity)
	require.NoError(t, err)
	sym2, ok, err := table2.PathToSymbol(ctx, "activity1", "activity1/output/metadata/aid")
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, res1.Lower, res2.Lower)
	require.Equal(t, sym1, sym2)
}

func TestAssignSymbol_DoesNotDoubleCountOnNextReservation(t *testing.T) {
	ctx := context.Background()

	table1 := newTestTable(t)
	res1, err := table1.ReserveRange(ctx, "activity1", 60, symbol.TargetActivity)
	require.NoError(t, err)

	sym, err := table1.AssignSymbol(ctx, "activity1", res1, res1.Lower, "activity1/output/data/field")
	require.NoError(t, err)

	path, ok, err := table1.SymbolToPath(ctx, "activity1", sym)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "activity1/output/data/field", path)

	table2 := symbol.NewTable(table1.Store, "hmsh", "abc")
	res2, err := table2.ReserveRange(ctx, "activity1", 60, symbol.TargetActivity)
	require.NoError(t, err)

	require.Len(t, res2.Existing, 1, "one assigned data symbol must contribute exactly one entry, not its forward and reverse mapping both")
	require.Equal(t, res1.Lower+1, res2.Lower, "next free ordinal must advance by exactly the number of assigned data symbols")
}

func TestAssignSymbol_RejectsOverflow(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	res, err := table.ReserveRange(ctx, "activity1", 30, symbol.TargetActivity)
	require.NoError(t, err)

	_, err = table.AssignSymbol(ctx, "activity1", res, res.Upper+1, "activity1/output/data/field")
	require.Error(t, err)
}
