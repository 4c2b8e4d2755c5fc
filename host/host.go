// Package host is the explicit registry and shutdown coordinator spec.md
// §9 asks for in place of the source's global `Router.instances` set: one
// Host owns an engine, a scheduler, a quorum, and zero or more workers, and
// gives them all a single context to live and die by.
package host

import (
	"context"
	"sync"

	"github.com/hotmeshio/hotmesh-go/engine"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/quorum"
	"github.com/hotmeshio/hotmesh-go/scheduler"
	"github.com/hotmeshio/hotmesh-go/worker"
)

// Runnable is anything Host drives with its own goroutine and lifetime tied
// to Host's context (scheduler.Scheduler, quorum.Quorum, worker.Worker all
// satisfy this via their Run method).
type Runnable interface {
	Run(ctx context.Context) error
}

// Host owns every long-running component for one engine process: no
// component holds an owning reference to another, only the interface
// handles Host wires in at construction (spec.md §9).
type Host struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Quorum    *quorum.Quorum
	Workers   []*worker.Worker
	Logger    *logging.ContextLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errMu  sync.Mutex
	errs   []error
}

func New(e *engine.Engine, sched *scheduler.Scheduler, q *quorum.Quorum, logger *logging.ContextLogger) *Host {
	return &Host{Engine: e, Scheduler: sched, Quorum: q, Logger: logger}
}

// AddWorker registers a bound worker to be started by Start.
func (h *Host) AddWorker(w *worker.Worker) {
	h.Workers = append(h.Workers, w)
}

// Start launches every component's Run loop under a single cancellable
// context derived from ctx, and returns immediately.
func (h *Host) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	components := make([]Runnable, 0, len(h.Workers)+3)
	if h.Engine != nil {
		components = append(components, h.Engine)
	}
	if h.Scheduler != nil {
		components = append(components, h.Scheduler)
	}
	if h.Quorum != nil {
		components = append(components, h.Quorum)
	}
	for _, w := range h.Workers {
		components = append(components, w)
	}

	for _, c := range components {
		h.wg.Add(1)
		go func(c Runnable) {
			defer h.wg.Done()
			if err := c.Run(runCtx); err != nil {
				h.recordErr(err)
				if h.Logger != nil {
					h.Logger.WithError(err).Error("host: component exited with error")
				}
			}
		}(c)
	}
}

func (h *Host) recordErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	h.errs = append(h.errs, err)
}

// Shutdown cancels every component's context and blocks until they've all
// returned, or ctx expires first.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors returns every component error recorded since Start, in the order
// components exited.
func (h *Host) Errors() []error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return append([]error(nil), h.errs...)
}
