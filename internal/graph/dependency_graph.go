package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// CyclicDependencyError names the virtual points forming a cycle, starting
// and ending with the point whose definition closed it.
type CyclicDependencyError struct {
	Path []int64 `json:"path"`
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "cyclic dependency: " + strings.Join(parts, " -> ")
}

type set map[int64]struct{}

func (s set) sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DependencyGraph tracks which virtual points consume which producers
// (other virtual points) and which raw data points. Edges point from
// consumer to producer. Writers are serialized against readers.
type DependencyGraph struct {
	mu sync.RWMutex

	producers   map[int64]set // consumer -> virtual point producers
	consumers   map[int64]set // producer -> consumers
	dataPoints  map[int64]set // consumer -> data points
	dpConsumers map[int64]set // data point -> consumers
}

func New() *DependencyGraph {
	return &DependencyGraph{
		producers:   make(map[int64]set),
		consumers:   make(map[int64]set),
		dataPoints:  make(map[int64]set),
		dpConsumers: make(map[int64]set),
	}
}

// Check reports whether giving id the producer set would close a cycle,
// without changing the graph.
func (g *DependencyGraph) Check(id int64, producers []int64) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycle(id, producers)
}

// Set replaces the edges of id. On a cycle the graph is left unchanged and a
// *CyclicDependencyError is returned.
func (g *DependencyGraph) Set(id int64, producers, dataPoints []int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.findCycle(id, producers); err != nil {
		return err
	}
	g.removeLocked(id, false)

	ps := set{}
	for _, p := range producers {
		ps[p] = struct{}{}
		if g.consumers[p] == nil {
			g.consumers[p] = set{}
		}
		g.consumers[p][id] = struct{}{}
	}
	g.producers[id] = ps

	ds := set{}
	for _, dp := range dataPoints {
		ds[dp] = struct{}{}
		if g.dpConsumers[dp] == nil {
			g.dpConsumers[dp] = set{}
		}
		g.dpConsumers[dp][id] = struct{}{}
	}
	g.dataPoints[id] = ds
	return nil
}

// Remove drops id's outgoing edges. Edges from consumers to id remain so
// that dependents can still be discovered (for example to refuse deletion).
func (g *DependencyGraph) Remove(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id, true)
}

func (g *DependencyGraph) removeLocked(id int64, dropNode bool) {
	for p := range g.producers[id] {
		delete(g.consumers[p], id)
		if len(g.consumers[p]) == 0 {
			delete(g.consumers, p)
		}
	}
	for dp := range g.dataPoints[id] {
		delete(g.dpConsumers[dp], id)
		if len(g.dpConsumers[dp]) == 0 {
			delete(g.dpConsumers, dp)
		}
	}
	delete(g.dataPoints, id)
	if dropNode {
		delete(g.producers, id)
	} else {
		g.producers[id] = set{}
	}
}

// Has reports whether id has been registered with Set.
func (g *DependencyGraph) Has(id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.producers[id]
	return ok
}

// DependentsOf returns the direct consumers of id, sorted.
func (g *DependencyGraph) DependentsOf(id int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.consumers[id].sorted()
}

// ProducersOf returns the virtual points id consumes, sorted.
func (g *DependencyGraph) ProducersOf(id int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.producers[id].sorted()
}

// ConsumersOfDataPoint returns the virtual points reading data point dp, sorted.
func (g *DependencyGraph) ConsumersOfDataPoint(dp int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dpConsumers[dp].sorted()
}

// Closure walks consumer edges from seeds and returns every reachable point
// for which include returns true. Traversal does not continue through
// excluded points. Seeds themselves are included only if include accepts them.
func (g *DependencyGraph) Closure(seeds []int64, include func(int64) bool) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := set{}
	queue := make([]int64, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := seen[s]; ok || !include(s) {
			continue
		}
		seen[s] = struct{}{}
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for c := range g.consumers[cur] {
			if _, ok := seen[c]; ok || !include(c) {
				continue
			}
			seen[c] = struct{}{}
			queue = append(queue, c)
		}
	}
	return seen.sorted()
}

// TopologicalOrder orders subset so that producers come before their
// consumers. Among points that are ready at the same time, higher priority
// runs first and ties break by ascending id. priority may be nil.
func (g *DependencyGraph) TopologicalOrder(subset []int64, priority func(int64) int) ([]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	in := set{}
	for _, id := range subset {
		in[id] = struct{}{}
	}
	indegree := make(map[int64]int, len(in))
	for id := range in {
		for p := range g.producers[id] {
			if _, ok := in[p]; ok {
				indegree[id]++
			}
		}
	}

	prio := func(id int64) int {
		if priority == nil {
			return 0
		}
		return priority(id)
	}
	var ready []int64
	for id := range in {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]int64, 0, len(in))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			pi, pj := prio(ready[i]), prio(ready[j])
			if pi != pj {
				return pi > pj
			}
			return ready[i] < ready[j]
		})
		cur := ready[0]
		ready = ready[1:]
		out = append(out, cur)
		for c := range g.consumers[cur] {
			if _, ok := in[c]; !ok {
				continue
			}
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(out) != len(in) {
		var stuck []int64
		for id := range in {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Slice(stuck, func(i, j int) bool { return stuck[i] < stuck[j] })
		return nil, &CyclicDependencyError{Path: stuck}
	}
	return out, nil
}

// findCycle looks for a path from any of the proposed producers back to id.
func (g *DependencyGraph) findCycle(id int64, producers []int64) error {
	for _, p := range producers {
		if p == id {
			return &CyclicDependencyError{Path: []int64{id, id}}
		}
	}

	parent := map[int64]int64{}
	visited := set{}
	var stack []int64
	for _, p := range producers {
		if _, ok := visited[p]; ok {
			continue
		}
		visited[p] = struct{}{}
		parent[p] = id
		stack = append(stack, p)
	}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.producers[cur] {
			if next == id {
				return &CyclicDependencyError{Path: buildPath(parent, id, cur)}
			}
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			parent[next] = cur
			stack = append(stack, next)
		}
	}
	return nil
}

// buildPath reconstructs id -> ... -> last -> id from DFS parents.
func buildPath(parent map[int64]int64, id, last int64) []int64 {
	var rev []int64
	for cur := last; cur != id; cur = parent[cur] {
		rev = append(rev, cur)
	}
	path := make([]int64, 0, len(rev)+2)
	path = append(path, id)
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, id)
}

// Len returns the number of registered points.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.producers)
}

func (g *DependencyGraph) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("DependencyGraph{points: %d, data points: %d}", len(g.producers), len(g.dpConsumers))
}
