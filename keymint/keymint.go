// Package keymint mints and parses the deterministic key grammar every
// other component addresses the backend through. It is a pure function
// over (namespace, kind, params); it never talks to a store itself.
package keymint

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is a programmer error: Mint was called with a Kind outside
// the enumerated set. Callers should treat it as a bug, not a runtime
// condition to recover from.
var ErrUnknownKind = errors.New("keymint: unknown kind")

// ErrInvalidKey means Parse was given a string that does not match any
// entry in the abbreviation-to-entity map.
var ErrInvalidKey = errors.New("keymint: invalid key")

// Kind enumerates every addressable entity in the key grammar.
type Kind int

const (
	KindGlobal Kind = iota
	KindApp
	KindThrottle
	KindWorkQueue
	KindTimeIndex
	KindTimeBucket
	KindQuorum
	KindJob
	KindStats
	KindSchemas
	KindSubscriptions
	KindTransitions
	KindStream
	KindHooks
	KindSignals
	KindSymbolKeys
	KindSymbolVals
	KindJobDependents
)

// Params carries the optional positional values a given Kind needs. Only
// ScoutType, EngineID, Facet and the KindSymbolKeys scope are dropped from
// the minted key when empty; any other field left empty leaves an empty
// segment (e.g. a trailing ":").
type Params struct {
	AppID      string
	ScoutType  string
	TimeValue  string
	EngineID   string
	JobID      string
	JobKey     string
	DateTime   string
	Facet      string
	Version    string
	Topic      string
	ActivityID string
	Subscribes string // "$subscribes" sentinel for sym:keys scoping
}

// Mint is total over Kind; an unrecognized kind returns ErrUnknownKind
// rather than panicking.
func Mint(namespace string, kind Kind, p Params) (string, error) {
	switch kind {
	case KindGlobal:
		return namespace, nil
	case KindApp:
		return join(namespace, "a", p.AppID), nil
	case KindThrottle:
		return join(namespace, p.AppID, "r", ""), nil
	case KindWorkQueue:
		if p.ScoutType == "" {
			return join(namespace, p.AppID, "w"), nil
		}
		return join(namespace, p.AppID, "w", p.ScoutType), nil
	case KindTimeIndex:
		return join(namespace, p.AppID, "t", ""), nil
	case KindTimeBucket:
		return join(namespace, p.AppID, "t", p.TimeValue), nil
	case KindQuorum:
		if p.EngineID == "" {
			return join(namespace, p.AppID, "q"), nil
		}
		return join(namespace, p.AppID, "q", p.EngineID), nil
	case KindJob:
		return join(namespace, p.AppID, "j", p.JobID), nil
	case KindStats:
		parts := []string{namespace, p.AppID, "s", p.JobKey, p.DateTime}
		if p.Facet != "" {
			parts = append(parts, p.Facet)
		}
		return strings.Join(parts, ":"), nil
	case KindSchemas:
		return join(namespace, p.AppID, "v", p.Version, "schemas"), nil
	case KindSubscriptions:
		return join(namespace, p.AppID, "v", p.Version, "subscriptions"), nil
	case KindTransitions:
		return join(namespace, p.AppID, "v", p.Version, "transitions"), nil
	case KindStream:
		if p.Topic == "" {
			return join(namespace, p.AppID, "x", ""), nil
		}
		return join(namespace, p.AppID, "x", p.Topic), nil
	case KindHooks:
		return join(namespace, p.AppID, "hooks"), nil
	case KindSignals:
		return join(namespace, p.AppID, "signals"), nil
	case KindSymbolKeys:
		scope := p.ActivityID
		if p.Subscribes != "" {
			scope = p.Subscribes
		}
		if scope == "" {
			return join(namespace, p.AppID, "sym", "keys"), nil
		}
		return join(namespace, p.AppID, "sym", "keys", scope), nil
	case KindSymbolVals:
		scope := p.ActivityID
		if p.Subscribes != "" {
			scope = p.Subscribes
		}
		return join(namespace, p.AppID, "sym", "vals", scope), nil
	case KindJobDependents:
		return join(namespace, p.AppID, "j", p.JobID, "d"), nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}

// Parsed is the result of inverting Mint.
type Parsed struct {
	Namespace string
	AppID     string
	Entity    string
	ID        string
}

// abbrevToEntity resolves the single-letter (or short-token) abbreviation
// used in the grammar to a human-readable entity name.
var abbrevToEntity = map[string]string{
	"a":       "applications",
	"j":       "jobs",
	"t":       "task_schedules|task_lists",
	"x":       "streams|stream_topics",
	"r":       "throttle_rates",
	"w":       "work_items",
	"q":       "quorum",
	"s":       "job_statistics",
	"v":       "versions",
	"sym":     "symbols",
	"hooks":   "hook_patterns",
	"signals": "signals",
}

// Parse recovers {namespace, app, entity, id} from a minted key. It assumes
// the grammar's fixed `{ns}:{appId}:{abbrev}:{...}` shape; KindGlobal and
// KindApp (which omit the appId segment) are detected by position.
func Parse(key string) (Parsed, error) {
	segments := strings.Split(key, ":")
	if len(segments) == 0 {
		return Parsed{}, ErrInvalidKey
	}

	if len(segments) == 1 {
		return Parsed{Namespace: segments[0], Entity: "global"}, nil
	}

	// {ns}:a:{appId} — application profile has no appId-first segment.
	if len(segments) >= 3 && segments[1] == "a" {
		return Parsed{
			Namespace: segments[0],
			Entity:    abbrevToEntity["a"],
			ID:        segments[2],
		}, nil
	}

	if len(segments) < 3 {
		return Parsed{}, ErrInvalidKey
	}

	namespace := segments[0]
	appID := segments[1]
	abbrev := segments[2]

	entity, ok := abbrevToEntity[abbrev]
	if !ok {
		return Parsed{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	id := ""
	if len(segments) > 3 {
		id = strings.Join(segments[3:], ":")
	}

	return Parsed{
		Namespace: namespace,
		AppID:     appID,
		Entity:    entity,
		ID:        id,
	}, nil
}
