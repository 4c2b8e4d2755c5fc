package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hotmeshio/hotmesh-go/graph"
	"github.com/hotmeshio/hotmesh-go/keymint"
	"github.com/hotmeshio/hotmesh-go/store"
	"gopkg.in/yaml.v3"
)

// ActivitySpec is one node of a deployed graph.
type ActivitySpec struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Topic    string            `yaml:"topic"`
	Requires []string          `yaml:"requires"`
	Hooks    map[string]string `yaml:"hooks"`
}

// GraphSpec is one `app.graphs[]` entry.
type GraphSpec struct {
	Subscribes string                  `yaml:"subscribes"`
	Publishes  string                  `yaml:"publishes"`
	Expire     int                     `yaml:"expire"`
	Persistent bool                    `yaml:"persistent"`
	Activities map[string]ActivitySpec `yaml:"activities"`
}

// AppProfile is the root of a deploy document.
type AppProfile struct {
	App struct {
		ID      string      `yaml:"id"`
		Version string      `yaml:"version"`
		Graphs  []GraphSpec `yaml:"graphs"`
	} `yaml:"app"`
}

// ParseYAML unmarshals a deploy document. The core's only contract on the
// document is that every activity compiles to a stable id and topic; graph
// shape validation happens in Deploy.
func ParseYAML(doc []byte) (AppProfile, error) {
	var profile AppProfile
	if err := yaml.Unmarshal(doc, &profile); err != nil {
		return AppProfile{}, fmt.Errorf("engine: parsing deploy document: %w", err)
	}
	return profile, nil
}

// Deploy validates profile's transition graphs for cycles, then persists
// its schemas/subscriptions/transitions under profile.App.Version — it does
// NOT make the version active; Activate does that separately so a version
// can be deployed ahead of a coordinated cutover.
func (e *Engine) Deploy(ctx context.Context, doc []byte) (string, error) {
	profile, err := ParseYAML(doc)
	if err != nil {
		return "", err
	}
	if profile.App.ID != e.AppID {
		return "", fmt.Errorf("engine: deploy document app id %q does not match engine app id %q", profile.App.ID, e.AppID)
	}
	version := profile.App.Version
	if version == "" {
		return "", fmt.Errorf("engine: deploy document missing app.version")
	}

	for _, g := range profile.App.Graphs {
		nodes := make([]graph.Node, 0, len(g.Activities))
		for id, a := range g.Activities {
			nodes = append(nodes, graph.Node{ID: id, Requires: a.Requires})
		}
		if _, err := graph.GetExecutionOrder(nodes); err != nil {
			return "", fmt.Errorf("engine: graph %q: %w", g.Subscribes, err)
		}
	}

	subsKey, err := keymint.Mint(e.Namespace, keymint.KindSubscriptions, keymint.Params{AppID: e.AppID, Version: version})
	if err != nil {
		return "", err
	}
	transKey, err := keymint.Mint(e.Namespace, keymint.KindTransitions, keymint.Params{AppID: e.AppID, Version: version})
	if err != nil {
		return "", err
	}
	schemasKey, err := keymint.Mint(e.Namespace, keymint.KindSchemas, keymint.Params{AppID: e.AppID, Version: version})
	if err != nil {
		return "", err
	}

	subsBlob, err := json.Marshal(profile.App.Graphs)
	if err != nil {
		return "", err
	}
	if _, err := e.Store.Set(ctx, subsKey, string(subsBlob), store.SetOptions{}); err != nil {
		return "", err
	}
	if _, err := e.Store.Set(ctx, transKey, string(subsBlob), store.SetOptions{}); err != nil {
		return "", err
	}
	if _, err := e.Store.Set(ctx, schemasKey, string(subsBlob), store.SetOptions{}); err != nil {
		return "", err
	}

	return version, nil
}

// Activate makes version the app's active version: it announces cache-off
// through broadcaster, writes the app hash's "version" field, then
// announces cache-on. No roll call of the quorum is made before the write,
// and a nil broadcaster skips both announcements.
func (e *Engine) Activate(ctx context.Context, version string, broadcaster VersionBroadcaster) error {
	appKey, err := keymint.Mint(e.Namespace, keymint.KindApp, keymint.Params{AppID: e.AppID})
	if err != nil {
		return err
	}

	if broadcaster != nil {
		if err := broadcaster.BroadcastCacheOff(ctx, e.AppID); err != nil {
			return err
		}
	}

	if err := e.Store.HSet(ctx, appKey, map[string]string{"version": version}); err != nil {
		return err
	}

	if broadcaster != nil {
		return broadcaster.BroadcastCacheOn(ctx, e.AppID, version)
	}
	return nil
}

// VersionBroadcaster is the quorum-facing half of Activate's protocol.
type VersionBroadcaster interface {
	BroadcastCacheOff(ctx context.Context, appID string) error
	BroadcastCacheOn(ctx context.Context, appID, version string) error
}

// ActiveVersion reads the app's currently active version.
func (e *Engine) ActiveVersion(ctx context.Context) (string, error) {
	appKey, err := keymint.Mint(e.Namespace, keymint.KindApp, keymint.Params{AppID: e.AppID})
	if err != nil {
		return "", err
	}
	v, ok, err := e.Store.HGet(ctx, appKey, "version")
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}
