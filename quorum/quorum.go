// Package quorum implements the pub/sub roll-call/deploy/activate/throttle
// protocol peers in one app share, adapting the reconnect/resubscribe loop
// pattern coordinator.Coordinator uses for its WebSocket link to Redis
// Pub/Sub.
package quorum

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/redis/go-redis/v9"
)

// Kind enumerates quorum message kinds, per spec.md §4.10.
type Kind string

const (
	KindPing     Kind = "ping"
	KindPong     Kind = "pong"
	KindThrottle Kind = "throttle"
	KindActivate Kind = "activate"
	KindDeploy   Kind = "deploy"
	KindJob      Kind = "job"
)

// Message is the envelope published on a quorum channel.
type Message struct {
	Kind     Kind            `json:"kind"`
	EngineID string          `json:"engineId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// PongPayload is what a peer replies with to a roll call.
type PongPayload struct {
	EngineID    string         `json:"engine_id"`
	Namespace   string         `json:"namespace"`
	AppID       string         `json:"app_id"`
	WorkerTopic string         `json:"worker_topic"`
	Stream      string         `json:"stream"`
	Counts      map[string]int `json:"counts"`
}

// ThrottlePayload carries a throttle broadcast.
type ThrottlePayload struct {
	Throttle int    `json:"throttle"`
	GUID     string `json:"guid,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// Handler processes an incoming quorum message from a peer (including
// itself — callers filter on EngineID if self-messages should be ignored).
type Handler func(ctx context.Context, msg Message)

// ReconnectConfig tunes the subscribe-loop backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2}
}

// Quorum maintains a PSubscribe connection to the app's broadcast channel
// and its own engine-targeted channel, dispatching incoming messages to
// registered handlers and tolerating disconnects via a reconnect loop.
type Quorum struct {
	client   redis.UniversalClient
	appID    string
	engineID string
	reconfig ReconnectConfig
	logger   *logging.ContextLogger

	handlersMu sync.RWMutex
	handlers   map[Kind][]Handler

	onConnected    func()
	onDisconnected func(error)
}

func New(client redis.UniversalClient, appID, engineID string, logger *logging.ContextLogger) *Quorum {
	return &Quorum{
		client:   client,
		appID:    appID,
		engineID: engineID,
		reconfig: DefaultReconnectConfig(),
		logger:   logger,
		handlers: make(map[Kind][]Handler),
	}
}

func (q *Quorum) broadcastChannel() string { return fmt.Sprintf("QUORUM{%s}", q.appID) }
func (q *Quorum) targetedChannel() string  { return fmt.Sprintf("QUORUM{%s}:%s", q.appID, q.engineID) }

// On registers a handler for kind.
func (q *Quorum) On(kind Kind, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[kind] = append(q.handlers[kind], h)
}

// OnConnected/OnDisconnected mirror coordinator.Coordinator's lifecycle
// callbacks.
func (q *Quorum) OnConnected(fn func())             { q.onConnected = fn }
func (q *Quorum) OnDisconnected(fn func(err error)) { q.onDisconnected = fn }

// Publish sends a message on the broadcast channel.
func (q *Quorum) Publish(ctx context.Context, kind Kind, payload interface{}) error {
	return q.publishOn(ctx, q.broadcastChannel(), kind, payload)
}

// PublishTo sends a message targeted at a specific engine's channel.
func (q *Quorum) PublishTo(ctx context.Context, engineID string, kind Kind, payload interface{}) error {
	return q.publishOn(ctx, fmt.Sprintf("QUORUM{%s}:%s", q.appID, engineID), kind, payload)
}

func (q *Quorum) publishOn(ctx context.Context, channel string, kind Kind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{Kind: kind, EngineID: q.engineID, Payload: raw}
	blob, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.Publish(ctx, channel, blob).Err()
}

// Run subscribes to both channels and dispatches messages until ctx is
// cancelled, reconnecting with exponential backoff on error (coordinator's
// connectionLoop pattern, adapted to Redis Pub/Sub).
func (q *Quorum) Run(ctx context.Context) error {
	delay := q.reconfig.InitialDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := q.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if q.onDisconnected != nil {
			q.onDisconnected(err)
		}
		if q.logger != nil {
			q.logger.WithError(err).Warn("quorum: subscription lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * q.reconfig.Factor)
		if delay > q.reconfig.MaxDelay {
			delay = q.reconfig.MaxDelay
		}
	}
}

func (q *Quorum) runOnce(ctx context.Context) error {
	sub := q.client.PSubscribe(ctx, q.broadcastChannel(), q.targetedChannel())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	if q.onConnected != nil {
		q.onConnected()
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rmsg, ok := <-ch:
			if !ok {
				return fmt.Errorf("quorum: subscription channel closed")
			}
			q.dispatch(ctx, rmsg.Payload)
		}
	}
}

func (q *Quorum) dispatch(ctx context.Context, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return
	}
	q.handlersMu.RLock()
	handlers := q.handlers[msg.Kind]
	q.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ctx, msg)
	}
}

// RollCall publishes a ping and collects pong replies for delay.
func (q *Quorum) RollCall(ctx context.Context, delay time.Duration) ([]PongPayload, error) {
	var mu sync.Mutex
	var pongs []PongPayload

	q.On(KindPong, func(ctx context.Context, msg Message) {
		var p PongPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			mu.Lock()
			pongs = append(pongs, p)
			mu.Unlock()
		}
	})

	if err := q.Publish(ctx, KindPing, map[string]string{}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]PongPayload(nil), pongs...), nil
}

// RespondToRollCalls wires a KindPing handler that replies with info() on
// the broadcast channel, so this peer is counted in every RollCall.
func (q *Quorum) RespondToRollCalls(info func() PongPayload) {
	q.On(KindPing, func(ctx context.Context, msg Message) {
		_ = q.Publish(ctx, KindPong, info())
	})
}

// BroadcastThrottle satisfies engine.Broadcaster.
func (q *Quorum) BroadcastThrottle(ctx context.Context, appID, topic string, ms int) error {
	return q.Publish(ctx, KindThrottle, ThrottlePayload{Throttle: ms, Topic: topic, GUID: uuid.NewString()})
}

// BroadcastCacheOff/BroadcastCacheOn satisfy engine.VersionBroadcaster: the
// "cache-off"/"cache-on" pair bracketing an Activate so every peer re-reads
// the active version from the store instead of trusting a locally cached
// one (spec.md §4.10).
func (q *Quorum) BroadcastCacheOff(ctx context.Context, appID string) error {
	return q.Publish(ctx, KindActivate, map[string]interface{}{"phase": "cache-off", "appId": appID})
}

func (q *Quorum) BroadcastCacheOn(ctx context.Context, appID, version string) error {
	return q.Publish(ctx, KindActivate, map[string]interface{}{"phase": "cache-on", "appId": appID, "version": version})
}
