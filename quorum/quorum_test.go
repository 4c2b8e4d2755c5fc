package quorum_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hotmeshio/hotmesh-go/quorum"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestQuorum_RollCallCollectsPongs(t *testing.T) {
	client := newClient(t)

	peer := quorum.New(client, "abc", "engine-2", nil)
	peer.RespondToRollCalls(func() quorum.PongPayload {
		return quorum.PongPayload{EngineID: "engine-2", AppID: "abc"}
	})

	caller := quorum.New(client, "abc", "engine-1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go peer.Run(ctx)
	go caller.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let both subscriptions establish

	pongs, err := caller.RollCall(ctx, 150*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, pongs, 1)
	require.Equal(t, "engine-2", pongs[0].EngineID)
}

func TestQuorum_ThrottleBroadcastDelivered(t *testing.T) {
	client := newClient(t)

	receiver := quorum.New(client, "abc", "engine-2", nil)
	received := make(chan quorum.ThrottlePayload, 1)
	receiver.On(quorum.KindThrottle, func(ctx context.Context, msg quorum.Message) {
		var p quorum.ThrottlePayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			received <- p
		}
	})

	sender := quorum.New(client, "abc", "engine-1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go receiver.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sender.BroadcastThrottle(ctx, "abc", "order.created", 250))

	select {
	case p := <-received:
		require.Equal(t, 250, p.Throttle)
		require.Equal(t, "order.created", p.Topic)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("did not receive throttle broadcast")
	}
}
