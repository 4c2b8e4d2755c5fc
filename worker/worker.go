// Package worker binds a single stream topic to a user callback: each
// Worker owns exactly one router.Router instance, replacing the teacher's
// generic named-queue pool (worker.Pool) with the one-topic-per-binding
// model spec.md §4 describes.
package worker

import (
	"context"
	"time"

	"github.com/hotmeshio/hotmesh-go/keymint"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/router"
	"github.com/hotmeshio/hotmesh-go/stream"
)

// Option configures Bind.
type Option func(*Worker)

// WithReclaimDelay overrides the router's idle-message reclaim interval.
func WithReclaimDelay(d time.Duration) Option {
	return func(w *Worker) { w.reclaimDelay = d }
}

// WithTaskQueue overrides the consumer group name; default is
// "{topic}-group" per the task-queue precedence rule in spec.md §6.
func WithTaskQueue(group string) Option {
	return func(w *Worker) { w.group = group }
}

// WithResponseStreamKey points the bound router's results at key; without
// it the router publishes no RESPONSE. Pass engine.CompletionsStreamKey(namespace, appID)
// so the engine that scheduled this activity collates its outcome.
func WithResponseStreamKey(key string) Option {
	return func(w *Worker) { w.responseStreamKey = key }
}

// Worker is a single topic binding: one consumer group, one consumer
// identity, one router.Router driving the consume loop.
type Worker struct {
	AppID  string
	GUID   string
	Topic  string
	Router *router.Router

	group             string
	reclaimDelay      time.Duration
	responseStreamKey string
}

// Bind constructs a Worker for topic, wiring a new router.Router against
// strm. It does not start consuming — call Run.
func Bind(namespace, appID, guid, topic string, strm stream.Stream, cb router.Callback, logger *logging.ContextLogger, opts ...Option) (*Worker, error) {
	w := &Worker{AppID: appID, GUID: guid, Topic: topic, group: topic + "-group"}
	for _, opt := range opts {
		opt(w)
	}

	streamKey, err := keymint.Mint(namespace, keymint.KindStream, keymint.Params{AppID: appID, Topic: topic})
	if err != nil {
		return nil, err
	}

	if err := strm.CreateGroup(context.Background(), streamKey, w.group); err != nil {
		return nil, err
	}

	w.Router = router.New(appID, guid, router.RoleWorker, topic, strm, streamKey, w.group, guid, cb, logger)
	if w.reclaimDelay > 0 {
		w.Router.SetReclaimDelay(w.reclaimDelay)
	}
	if w.responseStreamKey != "" {
		w.Router.ResponseStreamKey = w.responseStreamKey
	}
	return w, nil
}

// Run drives the bound router's consume loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.Router.Run(ctx)
}

// Stop halts the consume loop after its current iteration.
func (w *Worker) Stop() {
	w.Router.Stop()
}
