package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hotmeshio/hotmesh-go/graph"
	"github.com/hotmeshio/hotmesh-go/keymint"
	"github.com/hotmeshio/hotmesh-go/router"
	"github.com/hotmeshio/hotmesh-go/serializer"
	"github.com/hotmeshio/hotmesh-go/symbol"
)

// completionsTopic is the synthetic stream every deployed graph's entry
// router and every worker's activity router publish their RESPONSE onto.
// Engine is the sole consumer: spec.md §2 describes results being
// published back and collated into a single running status counter, which
// only works if every activity funnels through one stream the engine owns.
const completionsTopic = "$completions"

// CompletionsStreamKey is the stream key application code binds its
// worker.Worker routers to via worker.WithResponseStreamKey so their
// results reach the engine that scheduled them.
func CompletionsStreamKey(namespace, appID string) string {
	key, _ := keymint.Mint(namespace, keymint.KindStream, keymint.Params{AppID: appID, Topic: completionsTopic})
	return key
}

func doneMark(activityID string) string {
	return "-done:" + activityID
}

func schedMark(activityID string) string {
	return "-sched:" + activityID
}

// LoadGraphs reads back the graphs Deploy persisted for version.
func (e *Engine) LoadGraphs(ctx context.Context, version string) ([]GraphSpec, error) {
	subsKey, err := keymint.Mint(e.Namespace, keymint.KindSubscriptions, keymint.Params{AppID: e.AppID, Version: version})
	if err != nil {
		return nil, err
	}
	raw, ok, err := e.Store.Get(ctx, subsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("engine: no deployed graphs for version %q", version)
	}
	var graphs []GraphSpec
	if err := json.Unmarshal([]byte(raw), &graphs); err != nil {
		return nil, err
	}
	return graphs, nil
}

func graphNodes(g GraphSpec) []graph.Node {
	nodes := make([]graph.Node, 0, len(g.Activities))
	for id, a := range g.Activities {
		nodes = append(nodes, graph.Node{ID: id, Requires: a.Requires})
	}
	return nodes
}

func graphKeyTargets(g GraphSpec) []string {
	targets := make([]string, 0, len(g.Activities)+1)
	targets = append(targets, jobSymbolTarget)
	for id := range g.Activities {
		targets = append(targets, id)
	}
	return targets
}

func findGraphByActivity(graphs []GraphSpec, activityID string) (GraphSpec, []graph.Node, bool) {
	for _, g := range graphs {
		if _, ok := g.Activities[activityID]; ok {
			return g, graphNodes(g), true
		}
	}
	return GraphSpec{}, nil, false
}

// Run drives every deployed graph's transition scheduling for the app's
// currently active version until ctx is cancelled: one router consuming
// each graph's entry (subscribe) stream to fan out root activities, and one
// shared router collating every activity's completion off completionsTopic
// (spec.md §2, §4.8). A process with no active version yet just blocks
// until shutdown — Activate deploying one later requires restarting Run.
func (e *Engine) Run(ctx context.Context) error {
	version, err := e.ActiveVersion(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		<-ctx.Done()
		return nil
	}

	graphs, err := e.LoadGraphs(ctx, version)
	if err != nil {
		return err
	}

	routers, err := e.buildRouters(ctx, version, graphs)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(routers))
	for _, r := range routers {
		wg.Add(1)
		go func(r *router.Router) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				errCh <- err
			}
		}(r)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildRouters(ctx context.Context, version string, graphs []GraphSpec) ([]*router.Router, error) {
	completionsKey := e.streamKey(completionsTopic)
	completionsGroup := "engine-completions"
	if err := e.Stream.CreateGroup(ctx, completionsKey, completionsGroup); err != nil {
		return nil, err
	}
	completions := router.New(e.AppID, e.EngineID, router.RoleEngine, completionsTopic, e.Stream,
		completionsKey, completionsGroup, e.EngineID, e.handleCompletion(version, graphs), e.Logger)

	routers := make([]*router.Router, 0, len(graphs)+1)
	routers = append(routers, completions)

	for _, g := range graphs {
		entryKey := e.streamKey(g.Subscribes)
		entryGroup := "engine-" + g.Subscribes + "-group"
		if err := e.Stream.CreateGroup(ctx, entryKey, entryGroup); err != nil {
			return nil, err
		}
		r := router.New(e.AppID, e.EngineID, router.RoleEngine, g.Subscribes, e.Stream,
			entryKey, entryGroup, e.EngineID, e.entryCallback(version, g), e.Logger)
		r.ResponseStreamKey = completionsKey
		routers = append(routers, r)
	}
	return routers, nil
}

// entryCallback fires once per job entering g through its subscribed
// topic: it schedules every root activity (those with no Requires) and
// adjusts the job's running counter by however many activities it just
// started, net of the one unit the job's own arrival already holds.
func (e *Engine) entryCallback(version string, g GraphSpec) router.Callback {
	nodes := graphNodes(g)
	return func(ctx context.Context, msg router.Message) (router.Response, error) {
		jobID := msg.GUID
		scheduled, err := e.scheduleReady(ctx, jobID, version, g, nodes)
		if err != nil {
			return router.Response{}, err
		}
		return e.applyDelta(ctx, jobID, g, scheduled-1)
	}
}

// handleCompletion is bound to the shared completions stream: every
// worker activity and every graph's entry router forward their RESPONSE
// here. It persists the activity's output (if any), marks it done, and
// schedules whichever of its dependents just became ready.
func (e *Engine) handleCompletion(version string, graphs []GraphSpec) router.Callback {
	return func(ctx context.Context, msg router.Message) (router.Response, error) {
		jobID := msg.GUID
		activityID := msg.Data["activityId"]
		if activityID == "" {
			// A graph's own entry router publishes a RESPONSE here, with no
			// activityId, for every job it handles; nothing further to do.
			return router.Response{Status: "success"}, nil
		}

		if raw := msg.Data["output"]; raw != "" {
			if err := e.writeActivityOutput(ctx, jobID, activityID, raw); err != nil {
				return router.Response{}, err
			}
		}

		if err := e.Store.HSet(ctx, e.jobKey(jobID), map[string]string{doneMark(activityID): "1"}); err != nil {
			return router.Response{}, err
		}

		g, nodes, found := findGraphByActivity(graphs, activityID)
		if !found {
			return router.Response{Status: "success"}, nil
		}

		scheduled, err := e.scheduleReady(ctx, jobID, version, g, nodes)
		if err != nil {
			return router.Response{}, err
		}
		return e.applyDelta(ctx, jobID, g, scheduled-1)
	}
}

// scheduleReady dispatches every not-yet-scheduled node in nodes whose
// Requires are all marked done, per graph.IsComplete. Root activities
// (Requires is empty) are always ready, so the first call after a job
// enters the graph schedules them; later calls after each completion pick
// up whatever dependents that unblocked.
func (e *Engine) scheduleReady(ctx context.Context, jobID, version string, g GraphSpec, nodes []graph.Node) (int, error) {
	completed := func(id string) (bool, error) {
		_, ok, err := e.Store.HGet(ctx, e.jobKey(jobID), doneMark(id))
		return ok, err
	}

	scheduled := 0
	for _, node := range nodes {
		_, already, err := e.Store.HGet(ctx, e.jobKey(jobID), schedMark(node.ID))
		if err != nil {
			return scheduled, err
		}
		if already {
			continue
		}

		ready, err := graph.IsComplete(node, completed)
		if err != nil {
			return scheduled, err
		}
		if !ready {
			continue
		}

		a := g.Activities[node.ID]
		if err := e.dispatchActivity(ctx, jobID, version, node.ID, a.Topic); err != nil {
			return scheduled, err
		}
		if err := e.Store.HSet(ctx, e.jobKey(jobID), map[string]string{schedMark(node.ID): "1"}); err != nil {
			return scheduled, err
		}
		scheduled++
	}
	return scheduled, nil
}

func (e *Engine) dispatchActivity(ctx context.Context, jobID, version, activityID, topic string) error {
	payload := map[string]string{
		"guid":       jobID,
		"try":        "0",
		"activityId": activityID,
		"version":    version,
	}
	_, err := e.Stream.PublishBatch(ctx, e.streamKey(topic), []map[string]string{payload})
	return err
}

// applyDelta adjusts the job's running status counter by delta (the net
// effect of however many new activities scheduleReady just started) and
// marks the job done once it reaches zero or below (spec.md §2).
func (e *Engine) applyDelta(ctx context.Context, jobID string, g GraphSpec, delta int) (router.Response, error) {
	remaining, err := e.Store.HIncrByFloat(ctx, e.jobKey(jobID), ":", float64(delta))
	if err != nil {
		return router.Response{}, err
	}
	if remaining <= 0 {
		e.finishJob(ctx, jobID, g)
	}
	return router.Response{Status: "success"}, nil
}

// writeActivityOutput unmarshals a RESPONSE's "output" JSON object and
// writes each field under "{activityID}/output/data/{key}", symbol
// compressed the same way Pub/Add write job-level fields.
func (e *Engine) writeActivityOutput(ctx context.Context, jobID, activityID, raw string) error {
	var output map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &output); err != nil || len(output) == 0 {
		return nil
	}

	entries := make([]serializer.PathEntry, 0, len(output))
	for k, v := range output {
		path := activityID + "/output/data/" + k
		if _, err := e.Symbols.EnsureSymbol(ctx, activityID, symbol.TargetActivity, path); err != nil {
			return err
		}
		entries = append(entries, serializer.PathEntry{Path: path, Value: v})
	}

	sc := serializer.ResetSymbols(e.Symbols, []string{activityID}, nil, nil)
	packed, err := sc.Package(ctx, entries)
	if err != nil {
		return err
	}
	return e.Store.HSet(ctx, e.jobKey(jobID), packed)
}

// finishJob resolves any PubSub waiter for jobID with its final state and,
// if g declares a publish topic, announces completion onto it.
func (e *Engine) finishJob(ctx context.Context, jobID string, g GraphSpec) {
	status, err := e.GetStatus(ctx, jobID)
	if err != nil {
		return
	}
	entries, err := e.GetState(ctx, jobID, graphKeyTargets(g))
	if err != nil {
		return
	}

	data := make(map[string]interface{}, len(entries))
	for _, entry := range entries {
		data[entry.Path] = entry.Value
	}
	e.resolve(jobID, JobOutput{JobID: jobID, Status: status, Data: data})

	if g.Publishes != "" {
		payload := map[string]string{"guid": jobID, "try": "0"}
		_, _ = e.Stream.PublishBatch(ctx, e.streamKey(g.Publishes), []map[string]string{payload})
	}
}
