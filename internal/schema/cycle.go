package schema

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning describes a set of formula fields that can trigger each
// other. Own self-references are rejected by Build; every other cycle is
// allowed and left to the runtime iteration limit.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["Order.total", "Line.amount", "Order.total"]
	Kinds   []string `json:"kinds"`   // relation kinds on the cycle, sorted
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

type depEdge struct {
	to   string
	kind RelationKind
}

// depGraph maps "Type.field" to the fields a change of it can recompute.
type depGraph map[string][]depEdge

// AnalyzeCycles finds strongly connected components of the field
// dependency graph over every relation kind. A component with more than
// one field, or a field triggering itself, becomes a warning.
//
// Node and edge iteration is sorted so the result is deterministic.
func AnalyzeCycles(s *Schema) []CycleWarning {
	graph := buildDepGraph(s)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleToWarning(scc, graph))
		}
	}
	return warnings
}

func nodeName(f *Field) string {
	return f.Owner.Name + "." + f.Name
}

func buildDepGraph(s *Schema) depGraph {
	graph := make(depGraph)
	add := func(fv *FVar) {
		from := nodeName(fv.Source)
		graph[from] = append(graph[from], depEdge{to: nodeName(fv.Target), kind: fv.Kind})
	}

	for _, t := range s.order {
		for _, f := range t.fields {
			if _, ok := graph[nodeName(f)]; !ok && f.HasDependants() {
				graph[nodeName(f)] = nil
			}
			for _, fv := range f.Targets {
				add(fv)
			}
			for _, key := range sortedContextKeys(f) {
				for _, fv := range f.ContextTargets[key] {
					add(fv)
				}
			}
		}
	}

	for node := range graph {
		slices.SortFunc(graph[node], func(a, b depEdge) int {
			return strings.Compare(a.to, b.to)
		})
	}
	return graph
}

func sortedContextKeys(f *Field) []string {
	keys := make([]string, 0, len(f.ContextTargets))
	for k := range f.ContextTargets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func hasSelfLoop(node string, graph depGraph) bool {
	for _, e := range graph[node] {
		if e.to == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
func tarjanSCC(graph depGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range graph[v] {
			if _, visited := indices[e.to]; !visited {
				strongConnect(e.to)
				lowlink[v] = min(lowlink[v], lowlink[e.to])
			} else if onStack[e.to] {
				lowlink[v] = min(lowlink[v], indices[e.to])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleToWarning(scc []string, graph depGraph) CycleWarning {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	kindSet := map[string]bool{}
	for _, n := range scc {
		for _, e := range graph[n] {
			if members[e.to] {
				kindSet[e.kind.String()] = true
			}
		}
	}
	kinds := make([]string, 0, len(kindSet))
	for k := range kindSet {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Kinds:   kinds,
		Message: fmt.Sprintf("formula cycle (%s): %s", strings.Join(kinds, ","), strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the component from its first
// member until it returns to the start.
func reconstructCyclePath(scc []string, graph depGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		next := ""
		for _, e := range graph[current] {
			if e.to == start {
				next = start
				break
			}
			if next == "" && members[e.to] && !visited[e.to] {
				next = e.to
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
