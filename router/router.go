// Package router bridges a stream.Stream to a user callback: it owns the
// consume loop, the elastic throttle, and the ack/retry/republish decision
// for every message it reads.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hotmeshio/hotmesh-go/errs"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/stream"
	"golang.org/x/time/rate"
)

// Role distinguishes an engine-side router (consuming engine topics) from a
// worker-side one (consuming a single bound topic).
type Role string

const (
	RoleEngine Role = "ENGINE"
	RoleWorker Role = "WORKER"

	blockMs          = 2000
	maxStreamBackoff = 5 * time.Second
	graduatedMs      = 250 * time.Millisecond
	maxTimeoutMs     = 30 * time.Second
	hmshMaxRetries   = 3
)

// Message is the envelope handed to a Callback: the stream entry plus the
// fields the router itself needs to track retries and responses.
type Message struct {
	ID   string
	GUID string
	Try  int
	Data map[string]string
}

// Response is what a Callback returns.
type Response struct {
	Status string // "success" or "error"
	Code   string
	Data   map[string]interface{}
}

// Callback is the user-supplied handler bound to a topic.
type Callback func(ctx context.Context, msg Message) (Response, error)

// Router holds exactly the fields spec.md describes for a stream consumer
// instance.
type Router struct {
	AppID string
	GUID  string
	Role  Role
	Topic string

	Stream    stream.Stream
	StreamKey string
	Group     string
	Consumer  string
	Callback  Callback
	Logger    *logging.ContextLogger

	// ResponseStreamKey is where RESPONSE messages are published once a
	// callback resolves. A worker-side router's StreamKey is the topic it
	// consumes requests from, not something anything reads results off of,
	// so this is normally the engine's shared completions stream. Empty
	// means no RESPONSE is published: the router only acks what it
	// consumes (the engine's completions router is configured this way).
	ResponseStreamKey string

	throttleMs           int64
	errorCount           int64
	counts               map[string]int64
	countsMu             sync.Mutex
	reclaimDelay         time.Duration
	reclaimCount         int64
	hasReachedMaxBackoff bool
	shouldConsume        int32
	lastReclaim          time.Time

	sleepState *sleeper

	// Limiter caps how fast consumeOne invokes Callback, independent of the
	// elastic throttle (which paces the consume loop, not per-message
	// dispatch). Nil means unlimited.
	Limiter *rate.Limiter
}

// New constructs a Router bound to one stream key/group/topic.
func New(appID, guid string, role Role, topic string, s stream.Stream, streamKey, group, consumer string, cb Callback, logger *logging.ContextLogger) *Router {
	return &Router{
		AppID:        appID,
		GUID:         guid,
		Role:         role,
		Topic:        topic,
		Stream:       s,
		StreamKey:    streamKey,
		Group:        group,
		Consumer:     consumer,
		Callback:     cb,
		Logger:       logger,
		counts:        make(map[string]int64),
		reclaimDelay:  60 * time.Second,
		sleepState:    newSleeper(),
		shouldConsume: 1,
	}
}

// SetThrottle updates the elastic throttle. Safe to call concurrently with
// an in-flight sleep.
func (r *Router) SetThrottle(ms int) {
	atomic.StoreInt64(&r.throttleMs, int64(ms))
	r.sleepState.setThrottle(ms)
}

// SetReclaimDelay overrides how long a message must be idle before this
// router's Run loop reclaims it via Stream.Retry.
func (r *Router) SetReclaimDelay(d time.Duration) {
	r.reclaimDelay = d
}

// Stop halts the consume loop after the current iteration.
func (r *Router) Stop() {
	atomic.StoreInt32(&r.shouldConsume, 0)
}

func (r *Router) incrCount(code string) {
	r.countsMu.Lock()
	r.counts[code]++
	r.countsMu.Unlock()
}

// Run drives the consume loop described in spec.md §4.6.2 until Stop is
// called or ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for atomic.LoadInt32(&r.shouldConsume) == 1 {
		throttle := int(atomic.LoadInt64(&r.throttleMs))
		if throttle > 0 {
			r.sleepState.sleep(ctx, throttle)
		}
		if ctx.Err() != nil {
			return nil
		}

		duration := time.Duration(float64(blockMs)*(1+rand.Float64()*0.5)) * time.Millisecond

		msgs, err := r.Stream.ConsumeBatch(ctx, r.StreamKey, r.Group, r.Consumer, stream.ConsumeOptions{
			BatchSize:    10,
			BlockTimeout: duration,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			atomic.AddInt64(&r.errorCount, 1)
			backoff := time.Duration(float64(graduatedMs) * float64(int64(1)<<uint(atomic.LoadInt64(&r.errorCount))))
			if backoff > maxTimeoutMs {
				backoff = maxTimeoutMs
			}
			r.sleepState.sleep(ctx, int(backoff.Milliseconds()))
			continue
		}

		if len(msgs) > 0 {
			r.hasReachedMaxBackoff = false
			for _, m := range msgs {
				r.consumeOne(ctx, m)
			}

			features := r.Stream.Features()
			if features.SupportsRetry && time.Since(r.lastReclaim) > r.reclaimDelay {
				reclaimed, err := r.Stream.Retry(ctx, r.StreamKey, r.Group, stream.RetryOptions{
					MinIdleTime: r.reclaimDelay,
					Limit:       10,
					Consumer:    r.Consumer,
				})
				r.lastReclaim = time.Now()
				if err == nil {
					for _, m := range reclaimed {
						atomic.AddInt64(&r.reclaimCount, 1)
						r.consumeOne(ctx, m)
					}
				}
			}
			continue
		}

		if !r.hasReachedMaxBackoff {
			r.hasReachedMaxBackoff = true
			continue
		}
		r.sleepState.sleep(ctx, int(maxStreamBackoff.Milliseconds()))
	}
	return nil
}

// consumeOne implements spec.md §4.6.3: invoke the callback, resolve a
// retry/response/ack decision, and always ack-and-delete the original
// delivery exactly once.
func (r *Router) consumeOne(ctx context.Context, sm stream.Message) {
	msg := toRouterMessage(sm)

	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return
		}
	}

	resp, err := r.invoke(ctx, msg)
	if err != nil {
		resp = Response{
			Status: "error",
			Code:   errs.CodeUnknown,
			Data:   map[string]interface{}{"message": err.Error()},
		}
	}

	if resp.Status == "error" {
		r.handleError(ctx, msg, sm, resp)
	} else {
		r.handleSuccess(ctx, msg, resp)
	}

	_ = r.Stream.AckAndDelete(ctx, r.StreamKey, r.Group, []string{sm.ID})
}

// invoke calls the user callback, recovering a panic into the same shape a
// returned error would produce so a misbehaving callback can never take
// down the consume loop.
func (r *Router) invoke(ctx context.Context, msg Message) (resp Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			resp = Response{}
			err = errors.New("callback panic")
			if r.Logger != nil {
				r.Logger.WithField("panic", p).Error("router: callback panicked")
			}
		}
	}()
	return r.Callback(ctx, msg)
}

func (r *Router) handleError(ctx context.Context, msg Message, sm stream.Message, resp Response) {
	r.incrCount(resp.Code)
	decision := resolveRetry(sm.Data, resp.Code, msg.Try)
	if decision.Retry {
		republish := make(map[string]string, len(sm.Data))
		for k, v := range sm.Data {
			republish[k] = v
		}
		republish["guid"] = msg.GUID
		republish["try"] = strconv.Itoa(msg.Try + 1)
		if decision.VisibilityDelay > 0 {
			time.Sleep(decision.VisibilityDelay)
		}
		_, _ = r.Stream.PublishBatch(ctx, r.StreamKey, []map[string]string{republish})
		return
	}

	// Not retryable: publish a structured error response to whoever is
	// waiting on this activity's outcome.
	if r.ResponseStreamKey == "" {
		return
	}
	payload := r.responsePayload(msg, "error")
	payload["code"] = resp.Code
	_, _ = r.Stream.PublishBatch(ctx, r.responseStreamKey(), []map[string]string{payload})
}

func (r *Router) handleSuccess(ctx context.Context, msg Message, resp Response) {
	if r.ResponseStreamKey == "" {
		return
	}
	payload := r.responsePayload(msg, "success")
	if len(resp.Data) > 0 {
		if raw, err := json.Marshal(resp.Data); err == nil {
			payload["output"] = string(raw)
		}
	}
	_, _ = r.Stream.PublishBatch(ctx, r.responseStreamKey(), []map[string]string{payload})
}

// responsePayload builds the RESPONSE envelope forwarded to the
// completions stream: it carries msg's own guid and correlation fields
// rather than minting a fresh one, so the engine can match the result back
// to the job and activity that produced it.
func (r *Router) responsePayload(msg Message, status string) map[string]string {
	payload := map[string]string{
		"guid":   msg.GUID,
		"type":   "RESPONSE",
		"status": status,
		"topic":  r.Topic,
	}
	if activityID, ok := msg.Data["activityId"]; ok {
		payload["activityId"] = activityID
	}
	if version, ok := msg.Data["version"]; ok {
		payload["version"] = version
	}
	return payload
}

func (r *Router) responseStreamKey() string {
	return r.ResponseStreamKey
}

func toRouterMessage(sm stream.Message) Message {
	try := 0
	if t, ok := sm.Data["try"]; ok {
		if v, err := strconv.Atoi(t); err == nil {
			try = v
		}
	}
	guid := sm.Data["guid"]
	if guid == "" {
		guid = uuid.NewString()
	}
	return Message{ID: sm.ID, GUID: guid, Try: try, Data: sm.Data}
}
