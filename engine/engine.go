// Package engine implements the public surface spec.md §4.8 describes:
// publish/subscribe into job streams, reentrant hook dispatch, interrupt,
// scrub, state readers, the exporter, and the deploy/activate version
// lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hotmeshio/hotmesh-go/errs"
	"github.com/hotmeshio/hotmesh-go/keymint"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/serializer"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/hotmeshio/hotmesh-go/stream"
	"github.com/hotmeshio/hotmesh-go/symbol"
)

// JobOutput is the resolved value pubsub waits for.
type JobOutput struct {
	JobID  string
	Status float64
	Data   map[string]interface{}
}

// Callback receives fan-out messages from sub/psub.
type Callback func(topic string, data map[string]interface{})

// Engine is the job-lifecycle facade: everything it does is built from
// store.Semantic, stream.Stream, symbol.Table and serializer.Context.
type Engine struct {
	AppID     string
	Namespace string
	EngineID  string

	Store      store.Store
	Semantic   *store.Semantic
	Stream     stream.Stream
	Symbols    *symbol.Table
	Logger     *logging.ContextLogger

	subsMu sync.RWMutex
	subs   map[string][]Callback
	psubs  map[string][]Callback

	waitersMu sync.Mutex
	waiters   map[string]chan JobOutput
}

func New(appID, namespace, engineID string, s store.Store, strm stream.Stream, symbols *symbol.Table, logger *logging.ContextLogger) *Engine {
	return &Engine{
		AppID:     appID,
		Namespace: namespace,
		EngineID:  engineID,
		Store:     s,
		Semantic:  store.NewSemantic(s, namespace, appID),
		Stream:    strm,
		Symbols:   symbols,
		Logger:    logger,
		subs:      make(map[string][]Callback),
		psubs:     make(map[string][]Callback),
		waiters:   make(map[string]chan JobOutput),
	}
}

func (e *Engine) streamKey(topic string) string {
	key, err := keymint.Mint(e.Namespace, keymint.KindStream, keymint.Params{AppID: e.AppID, Topic: topic})
	if err != nil {
		panic(err)
	}
	return key
}

func (e *Engine) jobKey(jobID string) string {
	key, err := keymint.Mint(e.Namespace, keymint.KindJob, keymint.Params{AppID: e.AppID, JobID: jobID})
	if err != nil {
		panic(err)
	}
	return key
}

// jobSymbolTarget is the symbol.Table target name under which every
// job-level (non-activity-scoped) field is reserved a symbol, so a job's
// own fields and each activity's output fields never collide in the one
// flat job hash (spec.md §3.1).
const jobSymbolTarget = "$job"

// writeJobFields writes job-level data fields onto a job hash: every path
// gets a symbol reserved via symbol.Table before serializer.Context.Package
// packs it down to a 3-char field, so GetState/GetQueryState/Export's
// Unpackage call can resolve what Pub/Add wrote. The `:` semaphore, the
// "-done:"/"-sched:" marks and writeActivityOutput's fields are written
// by other paths.
func (e *Engine) writeJobFields(ctx context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	entries := make([]serializer.PathEntry, 0, len(fields))
	for path, v := range fields {
		if _, err := e.Symbols.EnsureSymbol(ctx, jobSymbolTarget, symbol.TargetJob, path); err != nil {
			return err
		}
		entries = append(entries, serializer.PathEntry{Path: path, Value: v})
	}

	sc := serializer.ResetSymbols(e.Symbols, []string{jobSymbolTarget}, nil, nil)
	packed, err := sc.Package(ctx, entries)
	if err != nil {
		return err
	}
	return e.Store.HSet(ctx, e.jobKey(jobID), packed)
}

// Pub publishes data onto topic's stream and returns the new jobId. Fire
// and forget: the caller does not wait on a response.
func (e *Engine) Pub(ctx context.Context, topic string, data map[string]string) (string, error) {
	jobID := uuid.NewString()
	payload := make(map[string]string, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}
	payload["guid"] = jobID
	payload["try"] = "0"

	if _, err := e.Stream.PublishBatch(ctx, e.streamKey(topic), []map[string]string{payload}); err != nil {
		return "", err
	}

	if err := e.writeJobFields(ctx, jobID, data); err != nil {
		return "", err
	}

	// The engine that first writes a job's `:` field owns it (spec.md §3.3);
	// a fresh uuid should never collide, but the set-if-absent still governs.
	won, err := e.Store.HSetNX(ctx, e.jobKey(jobID), ":", "1")
	if err != nil {
		return "", err
	}
	if !won {
		return "", fmt.Errorf("engine: job %s is already owned by another engine", jobID)
	}
	return jobID, nil
}

// PubSub publishes then blocks until the matching response arrives or
// timeout elapses.
func (e *Engine) PubSub(ctx context.Context, topic string, data map[string]string, timeout time.Duration) (JobOutput, error) {
	jobID, err := e.Pub(ctx, topic, data)
	if err != nil {
		return JobOutput{}, err
	}

	ch := make(chan JobOutput, 1)
	e.waitersMu.Lock()
	e.waiters[jobID] = ch
	e.waitersMu.Unlock()
	defer func() {
		e.waitersMu.Lock()
		delete(e.waiters, jobID)
		e.waitersMu.Unlock()
	}()

	select {
	case out := <-ch:
		return out, nil
	case <-time.After(timeout):
		return JobOutput{}, fmt.Errorf("engine: pubsub timed out waiting for job %s", jobID)
	case <-ctx.Done():
		return JobOutput{}, ctx.Err()
	}
}

// resolve is called by a router response handler when a job completes,
// delivering its result to a pending PubSub waiter if one is registered.
func (e *Engine) resolve(jobID string, out JobOutput) {
	e.waitersMu.Lock()
	ch, ok := e.waiters[jobID]
	e.waitersMu.Unlock()
	if ok {
		select {
		case ch <- out:
		default:
		}
	}
}

// Sub registers cb for exact-topic fan-out.
func (e *Engine) Sub(topic string, cb Callback) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs[topic] = append(e.subs[topic], cb)
}

// Unsub clears every callback registered for topic.
func (e *Engine) Unsub(topic string) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	delete(e.subs, topic)
}

// PSub registers cb for pattern fan-out. Dispatch matches each registered
// pattern against the delivered topic itself (patternMatch: exact, "*", or
// a trailing-"*" prefix).
func (e *Engine) PSub(pattern string, cb Callback) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.psubs[pattern] = append(e.psubs[pattern], cb)
}

func (e *Engine) PUnsub(pattern string) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	delete(e.psubs, pattern)
}

// Dispatch fans a delivered message out to every callback subscribed to
// topic or a matching pattern. Quorum calls this on message receipt.
func (e *Engine) Dispatch(topic string, data map[string]interface{}) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	for _, cb := range e.subs[topic] {
		cb(topic, data)
	}
	for pattern, cbs := range e.psubs {
		if patternMatch(pattern, topic) {
			for _, cb := range cbs {
				cb(topic, data)
			}
		}
	}
}

func patternMatch(pattern, topic string) bool {
	if pattern == topic || pattern == "*" {
		return true
	}
	// simple trailing-wildcard match, e.g. "order.*"
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
	}
	return false
}

// Add resumes leg 2 of a paused reentrant activity: streamData carries the
// activity/job coordinates needed to rehydrate and continue execution. The
// actual graph walk belongs to the caller (typically a worker's callback);
// Add just persists the hand-off and increments the running semaphore.
func (e *Engine) Add(ctx context.Context, jobID string, fields map[string]string) error {
	if err := e.writeJobFields(ctx, jobID, fields); err != nil {
		return err
	}
	_, err := e.Store.HIncrByFloat(ctx, e.jobKey(jobID), ":", 1)
	return err
}

// HookOptions configures Hook.
type HookOptions struct {
	Status string
	Code   string
}

// Hook re-enters an open activity via a declared hook pattern: it resolves
// the pending signal registered by scheduler.AwaitSignal and republishes
// into the job's stream so the parked activity wakes up.
func (e *Engine) Hook(ctx context.Context, topic, resolved string, data map[string]string, opts HookOptions) error {
	jobID, found, err := e.Semantic.ResolveHookSignal(ctx, topic, resolved)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.ErrNotFound, "", "", topic, 0, "no pending hook for "+resolved)
	}

	payload := make(map[string]string, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}
	payload["guid"] = jobID
	if opts.Status != "" {
		payload["status"] = opts.Status
	}
	if opts.Code != "" {
		payload["code"] = opts.Code
	}
	_, err = e.Stream.PublishBatch(ctx, e.streamKey(topic), []map[string]string{payload})
	return err
}

// InterruptOptions mirrors spec.md §4.4/§4.8's interrupt contract.
type InterruptOptions struct {
	Reason   string
	Code     string
	Throw    bool
	Expire   time.Duration
	Suppress bool
}

func (e *Engine) Interrupt(ctx context.Context, jobID string, opts InterruptOptions) error {
	err := e.Semantic.Interrupt(ctx, jobID, store.InterruptOptions{
		Throw:  opts.Throw,
		Code:   opts.Code,
		Reason: opts.Reason,
	})
	if err != nil && opts.Suppress {
		return nil
	}
	if err == nil && opts.Expire > 0 {
		return e.Store.Expire(ctx, e.jobKey(jobID), int(opts.Expire.Seconds()))
	}
	return err
}

// Scrub deletes a completed job's hash outright.
func (e *Engine) Scrub(ctx context.Context, jobID string) error {
	_, err := e.Store.Del(ctx, e.jobKey(jobID))
	return err
}

// GetStatus reads the job's `:` semaphore.
func (e *Engine) GetStatus(ctx context.Context, jobID string) (float64, error) {
	return e.Semantic.GetStatus(ctx, jobID)
}

// GetRaw returns the job hash with no symbol inflation, or errs.ErrNotFound
// when the job hash does not exist.
func (e *Engine) GetRaw(ctx context.Context, jobID string) (map[string]string, error) {
	fields, _, err := e.Semantic.FindJobFields(ctx, jobID, "*", 1000, 0)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errs.New(errs.ErrNotFound, "", jobID, "", 0, "job not found")
	}
	return fields, nil
}

// GetState inflates the job hash via the serializer/symbol layer into its
// original path/value entries.
func (e *Engine) GetState(ctx context.Context, jobID string, keyTargets []string) ([]serializer.PathEntry, error) {
	raw, err := e.GetRaw(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sc := serializer.ResetSymbols(e.Symbols, keyTargets, nil, nil)
	return sc.Unpackage(ctx, raw)
}

// GetQueryState is GetState filtered down to the subset of fields whose
// path has prefix.
func (e *Engine) GetQueryState(ctx context.Context, jobID string, keyTargets []string, prefix string) ([]serializer.PathEntry, error) {
	entries, err := e.GetState(ctx, jobID, keyTargets)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, en := range entries {
		if len(en.Path) >= len(prefix) && en.Path[:len(prefix)] == prefix {
			out = append(out, en)
		}
	}
	return out, nil
}

// ThrottleOptions configures Throttle.
type ThrottleOptions struct {
	Throttle int
	Topic    string
}

// Broadcaster publishes a roll-call/throttle message to the quorum; Host
// wires the real quorum.Quorum in, tests can pass nil.
type Broadcaster interface {
	BroadcastThrottle(ctx context.Context, appID, topic string, ms int) error
}

func (e *Engine) Throttle(ctx context.Context, opts ThrottleOptions, broadcaster Broadcaster) error {
	if err := e.Semantic.SetThrottleRate(ctx, opts.Topic, opts.Throttle); err != nil {
		return err
	}
	if broadcaster != nil {
		return broadcaster.BroadcastThrottle(ctx, e.AppID, opts.Topic, opts.Throttle)
	}
	return nil
}
