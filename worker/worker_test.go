package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/router"
	"github.com/hotmeshio/hotmesh-go/stream"
	"github.com/hotmeshio/hotmesh-go/worker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBind_ConsumesPublishedMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	strm := stream.NewRedis(client)

	received := make(chan string, 1)
	cb := func(ctx context.Context, msg router.Message) (router.Response, error) {
		received <- msg.Data["sku"]
		return router.Response{Status: "success"}, nil
	}

	w, err := worker.Bind("hmsh", "abc", "worker-1", "abc.fulfill", strm, cb, nil)
	require.NoError(t, err)

	streamKey := "hmsh:abc:x:abc.fulfill"
	_, err = strm.PublishBatch(context.Background(), streamKey, []map[string]string{
		{"guid": "g1", "try": "0", "sku": "A1"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	select {
	case sku := <-received:
		require.Equal(t, "A1", sku)
	case <-ctx.Done():
		t.Fatal("worker did not consume published message in time")
	}
}
