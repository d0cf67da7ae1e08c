package reference

import (
	"fmt"
	"sort"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
)

// Graph is the in-bundle reference graph: an edge i -> j means entry i
// holds a reference resolved to entry j.
type Graph struct {
	edges map[int][]int
}

// NewGraph builds the graph of the in-bundle resolutions in res.
// Self-references and references into contained resources add no edge.
func NewGraph(res []Resolution) *Graph {
	g := &Graph{edges: make(map[int][]int)}
	seen := make(map[[2]int]bool)
	for i := range res {
		r := &res[i]
		if r.State != ResolvedInBundle || r.Target == r.Entry {
			continue
		}
		e := [2]int{r.Entry, r.Target}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.edges[r.Entry] = append(g.edges[r.Entry], r.Target)
	}
	for k := range g.edges {
		sort.Ints(g.edges[k])
	}
	return g
}

// Targets returns the entries referenced by entry, sorted.
func (g *Graph) Targets(entry int) []int {
	return g.edges[entry]
}

// Reachable returns the entries transitively referenced from start,
// start included, in ascending order. Every entry is visited once, so
// reference cycles terminate.
func (g *Graph) Reachable(start int) []int {
	visited := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	out := make([]int, 0, len(visited))
	for k := range visited {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// HasCycle reports whether any reference chain starting at start returns
// to an entry already on the chain.
func (g *Graph) HasCycle(start int) bool {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[int]int)
	var visit func(int) bool
	visit = func(n int) bool {
		state[n] = onStack
		for _, next := range g.edges[n] {
			switch state[next] {
			case onStack:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[n] = done
		return false
	}
	return visit(start)
}

// unreachable reports entries that entry 0 cannot reach. In document and
// message bundles the first entry (Composition or MessageHeader) is
// expected to reference, directly or not, every other entry.
func unreachable(b *bundle.Bundle, res []Resolution) []rc.Finding {
	entries := b.Entries()
	if len(entries) < 2 {
		return nil
	}
	reach := make(map[int]bool)
	for _, i := range NewGraph(res).Reachable(0) {
		reach[i] = true
	}

	var out []rc.Finding
	for _, ent := range entries {
		if reach[ent.Index] || ent.Resource == nil {
			continue
		}
		out = append(out, rc.NewFinding(rc.SourceReference, rc.SeverityWarning, rc.CodeBusinessRule).
			Message(fmt.Sprintf("entry %d is not reachable from the first entry of the %s", ent.Index, b.Type())).
			At(ent.Resource.Type(), fmt.Sprintf("Bundle.entry[%d]", ent.Index)).
			Entry(ent.Index).
			Build())
	}
	return out
}
