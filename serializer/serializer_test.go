package serializer_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/serializer"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/hotmeshio/hotmesh-go/symbol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) (*symbol.Table, symbol.Reservation) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := store.NewRedis(context.Background(), store.Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	table := symbol.NewTable(s, "hmsh", "abc")
	res, err := table.ReserveRange(context.Background(), "activity1", 100, symbol.TargetActivity)
	require.NoError(t, err)
	return table, res
}

func TestPackageUnpackage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	table, res := newResolver(t)

	paths := []string{
		"activity1/output/data/name",
		"activity1/output/data/count",
		"activity1/output/data/active",
	}
	for i, p := range paths {
		_, err := table.AssignSymbol(ctx, "activity1", res, res.Lower+i, p)
		require.NoError(t, err)
	}

	entries := []serializer.PathEntry{
		{Path: paths[0], Value: "hello world"},
		{Path: paths[1], Dims: []int{0, 1}, Value: int64(42)},
		{Path: paths[2], Value: true},
	}

	sc := serializer.ResetSymbols(table, []string{"activity1"}, nil, nil)
	packaged, err := sc.Package(ctx, entries)
	require.NoError(t, err)
	require.Len(t, packaged, 3)

	restored, err := sc.Unpackage(ctx, packaged)
	require.NoError(t, err)
	require.Len(t, restored, 3)

	byPath := make(map[string]serializer.PathEntry, len(restored))
	for _, e := range restored {
		byPath[e.Path] = e
	}

	require.Equal(t, "hello world", byPath[paths[0]].Value)
	require.Equal(t, int64(42), byPath[paths[1]].Value)
	require.Equal(t, []int{0, 1}, byPath[paths[1]].Dims)
	require.Equal(t, true, byPath[paths[2]].Value)
}

func TestPackage_UnknownPathFails(t *testing.T) {
	ctx := context.Background()
	table, _ := newResolver(t)

	sc := serializer.ResetSymbols(table, []string{"activity1"}, nil, nil)
	_, err := sc.Package(ctx, []serializer.PathEntry{{Path: "activity1/output/data/nope", Value: "x"}})
	require.ErrorIs(t, err, serializer.ErrUnknownPath)
}

func TestUnpackage_SkipsStatusAndMarkers(t *testing.T) {
	ctx := context.Background()
	table, _ := newResolver(t)

	sc := serializer.ResetSymbols(table, []string{"activity1"}, nil, nil)
	restored, err := sc.Unpackage(ctx, map[string]string{
		":":      "1",
		"-mark":  "whatever",
	})
	require.NoError(t, err)
	require.Empty(t, restored)
}
