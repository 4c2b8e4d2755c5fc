// Package graph provides directed-acyclic-graph utilities shared by the
// engine's deploy-time transition validation and its transition
// scheduling: cycle detection, topological sort and dependency checks over
// a flow's activities.
package graph

import "fmt"

// Node is anything with an identity and a set of upstream dependencies
// (spec.md §4.8's `requires` edges between activities). The engine's
// deploy validator and its transition scheduler both build a []Node from
// their activity specs and hand it to this package.
type Node struct {
	ID       string
	Requires []string
}

// Repository optionally backs cycle detection with a native graph store
// (e.g. a transition table already held in Redis); when nil, ValidateDAG
// falls back to the in-memory DFS check.
type Repository interface {
	WouldCreateCycle(nodeID, dependencyID string) (bool, error)
}

// ValidateDAG reports whether adding node to its graph (resolved via nodes)
// would introduce a cycle.
func ValidateDAG(repo Repository, nodes []Node, node Node) error {
	if len(node.Requires) == 0 {
		return nil
	}

	if repo != nil {
		for _, depID := range node.Requires {
			hasCycle, err := repo.WouldCreateCycle(node.ID, depID)
			if err != nil {
				return checkCycleManual(nodes, node)
			}
			if hasCycle {
				return fmt.Errorf("graph: adding dependency %s to %s would create a cycle", depID, node.ID)
			}
		}
		return nil
	}

	return checkCycleManual(nodes, node)
}

func checkCycleManual(nodes []Node, node Node) error {
	byID := make(map[string]Node, len(nodes)+1)
	for _, n := range nodes {
		byID[n.ID] = n
	}
	byID[node.ID] = node

	visited := make(map[string]bool)
	stack := make(map[string]bool)
	return checkCycleRecursive(byID, node.ID, visited, stack)
}

func checkCycleRecursive(byID map[string]Node, id string, visited, stack map[string]bool) error {
	visited[id] = true
	stack[id] = true

	n, ok := byID[id]
	if !ok {
		stack[id] = false
		return nil
	}

	for _, depID := range n.Requires {
		if !visited[depID] {
			if err := checkCycleRecursive(byID, depID, visited, stack); err != nil {
				return err
			}
		} else if stack[depID] {
			return fmt.Errorf("graph: circular dependency: %s -> %s", id, depID)
		}
	}

	stack[id] = false
	return nil
}

// GetExecutionOrder topologically sorts nodes via Kahn's algorithm: nodes
// with no unresolved dependencies come first.
func GetExecutionOrder(nodes []Node) ([]Node, error) {
	adjacency := make(map[string][]Node)
	inDegree := make(map[string]int, len(nodes))

	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, n := range nodes {
		for _, depID := range n.Requires {
			adjacency[depID] = append(adjacency[depID], n)
			inDegree[n.ID]++
		}
	}

	var queue []Node
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n)
		}
	}

	result := make([]Node, 0, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range adjacency[current.ID] {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(nodes) {
		return nil, fmt.Errorf("graph: circular dependency detected")
	}
	return result, nil
}

// IsComplete reports whether node has no unmet dependencies, given a
// resolver that answers whether a given node ID has completed. Used by the
// engine to decide whether an activity's dependents may hydrate yet
// (spec.md §4.8's reentrant hook semantics).
func IsComplete(node Node, completed func(id string) (bool, error)) (bool, error) {
	for _, depID := range node.Requires {
		ok, err := completed(depID)
		if err != nil {
			return false, fmt.Errorf("graph: dependency %s: %w", depID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
