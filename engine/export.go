package engine

import (
	"context"
	"strconv"
	"strings"
)

// DependencyKind classifies an export's dependency list entries, per
// spec.md §4.9.
type DependencyKind string

const (
	DependencyHook  DependencyKind = "hook"
	DependencyFlow  DependencyKind = "flow"
	DependencyOther DependencyKind = "other"
)

// Dependency is one entry in an export report's dependency list.
type Dependency struct {
	Topic string
	Kind  DependencyKind
}

// Export is the structured report Export returns: process is the nested
// object rebuilt from every path/value entry in the job hash.
type Export struct {
	Dependencies []Dependency
	Process      map[string]interface{}
	Status       float64
}

// Export flattens the job hash into a nested process tree, attaches its
// declared dependencies, and reports final status (spec.md §4.9).
func (e *Engine) Export(ctx context.Context, jobID string, keyTargets []string, deps []Dependency) (Export, error) {
	entries, err := e.GetState(ctx, jobID, keyTargets)
	if err != nil {
		return Export{}, err
	}

	status, err := e.GetStatus(ctx, jobID)
	if err != nil {
		return Export{}, err
	}

	process := make(map[string]interface{})
	for _, entry := range entries {
		path := entry.Path
		if len(entry.Dims) > 0 {
			dimParts := make([]string, len(entry.Dims))
			for i, d := range entry.Dims {
				dimParts[i] = strconv.Itoa(d)
			}
			path = path + "/" + strings.Join(dimParts, "/")
		}
		restoreHierarchy(process, strings.Split(path, "/"), entry.Value)
	}

	return Export{Dependencies: deps, Process: process, Status: status}, nil
}

// restoreHierarchy writes value into root at the nested location named by
// segments, creating intermediate maps as needed.
func restoreHierarchy(root map[string]interface{}, segments []string, value interface{}) {
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
}
