package orchestration

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph represents the task dependency relationships.
type DependencyGraph struct {
	nodes map[string]TaskDescriptor
	edges map[string][]string // task -> dependencies
	// missing records dependency ids that do not name a task in the graph.
	missing map[string][]string
}

// CycleError reports every dependency cycle found while planning.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, strings.Join(c, " -> "))
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, "; "))
}

// TaskIDs returns the distinct ids involved in any cycle, sorted.
func (e *CycleError) TaskIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range e.Cycles {
		for _, id := range c {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// BuildDependencyGraph creates a dependency graph from descriptors. Unknown
// dependency ids are recorded rather than rejected; plan validation reports them.
func BuildDependencyGraph(descs []TaskDescriptor) *DependencyGraph {
	graph := &DependencyGraph{
		nodes:   make(map[string]TaskDescriptor, len(descs)),
		edges:   make(map[string][]string, len(descs)),
		missing: make(map[string][]string),
	}
	for _, d := range descs {
		graph.nodes[d.ID] = d
	}

	for _, d := range descs {
		deps := make([]string, 0, len(d.Dependencies))
		seen := make(map[string]bool, len(d.Dependencies))
		for _, dep := range d.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := graph.nodes[dep]; !ok {
				graph.missing[d.ID] = append(graph.missing[d.ID], dep)
				continue
			}
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		graph.edges[d.ID] = deps
	}
	return graph
}

// Dependencies returns the known dependencies of id.
func (dg *DependencyGraph) Dependencies(id string) []string {
	return dg.edges[id]
}

// MissingDependencies returns dependency ids, per task, that name no task.
func (dg *DependencyGraph) MissingDependencies() map[string][]string {
	return dg.missing
}

func (dg *DependencyGraph) sortedIDs() []string {
	ids := make([]string, 0, len(dg.nodes))
	for id := range dg.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DetectCycles uses depth-first white/gray/black colouring to find every
// cycle. Each cycle is returned closed, starting at its smallest id, e.g.
// [a b a]. A self dependency is the one-node cycle [a a].
func (dg *DependencyGraph) DetectCycles() [][]string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(dg.nodes))
	var path []string
	seen := make(map[string]bool)
	var cycles [][]string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		path = append(path, node)

		for _, dep := range dg.edges[node] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				start := len(path) - 1
				for start >= 0 && path[start] != dep {
					start--
				}
				cycle := normalizeCycle(path[start:])
				key := strings.Join(cycle, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
	}

	for _, id := range dg.sortedIDs() {
		if color[id] == white {
			visit(id)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i], " ") < strings.Join(cycles[j], " ")
	})
	return cycles
}

// normalizeCycle rotates an open cycle so it starts at its smallest id and
// closes it by repeating the first element.
func normalizeCycle(open []string) []string {
	lo := 0
	for i, id := range open {
		if id < open[lo] {
			lo = i
		}
	}
	out := make([]string, 0, len(open)+1)
	out = append(out, open[lo:]...)
	out = append(out, open[:lo]...)
	return append(out, out[0])
}

// ValidateDependencies fails with a *CycleError when the graph has cycles.
func (dg *DependencyGraph) ValidateDependencies() error {
	if cycles := dg.DetectCycles(); len(cycles) > 0 {
		return &CycleError{Cycles: cycles}
	}
	return nil
}

// TopologicalSort orders tasks with Kahn's algorithm so that every task comes
// after its dependencies. Ready tasks are taken by priority, then id.
func (dg *DependencyGraph) TopologicalSort() ([]string, error) {
	if err := dg.ValidateDependencies(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(dg.nodes))
	dependents := make(map[string][]string, len(dg.nodes))
	for id, deps := range dg.edges {
		indegree[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := &readyQueue{nodes: dg.nodes}
	for _, id := range dg.sortedIDs() {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(dg.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(dg.nodes) {
		return nil, fmt.Errorf("unable to order tasks: %d of %d tasks unreachable", len(dg.nodes)-len(order), len(dg.nodes))
	}
	return order, nil
}

// readyQueue is the Kahn zero in-degree queue, a min-heap by (priority, id).
type readyQueue struct {
	ids   []string
	nodes map[string]TaskDescriptor
}

func (q readyQueue) Len() int { return len(q.ids) }
func (q readyQueue) Less(i, j int) bool {
	a, b := q.nodes[q.ids[i]], q.nodes[q.ids[j]]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}
func (q readyQueue) Swap(i, j int) { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *readyQueue) Push(x any)   { q.ids = append(q.ids, x.(string)) }
func (q *readyQueue) Pop() any {
	old := q.ids
	n := len(old)
	x := old[n-1]
	q.ids = old[:n-1]
	return x
}

// ToMermaid generates a Mermaid diagram of the graph, edges pointing from a
// dependency to the task that needs it.
func (dg *DependencyGraph) ToMermaid() string {
	var lines []string
	lines = append(lines, "graph TD")

	for _, id := range dg.sortedIDs() {
		d := dg.nodes[id]
		lines = append(lines, fmt.Sprintf("  %s[\"%s (%s)\"]:::%s", mermaidID(id), id, mermaidLabel(d), d.Kind))
	}
	for _, id := range dg.sortedIDs() {
		for _, dep := range dg.edges[id] {
			lines = append(lines, fmt.Sprintf("  %s --> %s", mermaidID(dep), mermaidID(id)))
		}
	}

	lines = append(lines, "  classDef analyze_file fill:#87CEEB,stroke:#333,stroke-width:2px;")
	lines = append(lines, "  classDef build_synthesis fill:#90EE90,stroke:#333,stroke-width:2px;")
	lines = append(lines, "  classDef cleanup_orphan fill:#FFB6C1,stroke:#333,stroke-width:2px;")

	return strings.Join(lines, "\n")
}

func mermaidID(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}

func mermaidLabel(d TaskDescriptor) string {
	p := d.SourcePath
	if p == "" {
		p = d.ArtifactPath
	}
	parts := strings.Split(p, "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.ReplaceAll(strings.Join(parts, "/"), "\"", "'")
}
