package causal

import (
	"context"
	"slices"
	"strings"
)

// DefaultMaxHops is a conservative hop budget. The search is exponential in
// the branching factor, so dense graphs need small budgets.
const DefaultMaxHops = 6

// cancelCheckEvery is how many search steps pass between context checks.
const cancelCheckEvery = 1024

// PathSeparator joins node ids in a path's display string.
const PathSeparator = " → "

// Path is a non-empty, simple sequence of edges from a start to an end node.
type Path []Edge

// Nodes returns the node sequence visited by the path.
func (p Path) Nodes() []string {
	if len(p) == 0 {
		return nil
	}
	nodes := make([]string, 0, len(p)+1)
	nodes = append(nodes, p[0].Source)
	for _, e := range p {
		nodes = append(nodes, e.Target)
	}
	return nodes
}

func (p Path) records() []EdgeRecord {
	out := make([]EdgeRecord, 0, len(p))
	for _, e := range p {
		out = append(out, e.RawRecord())
	}
	return out
}

func (p Path) String() string {
	return strings.Join(p.Nodes(), PathSeparator)
}

type findOptions struct {
	maxPaths int
	ctx      context.Context
}

// FindOption tunes FindAllPaths.
type FindOption func(*findOptions)

// WithMaxPaths stops the search once n paths have been collected. Zero or a
// negative n means no limit.
func WithMaxPaths(n int) FindOption {
	return func(o *findOptions) {
		o.maxPaths = n
	}
}

// WithContext abandons the search once ctx is done. The paths collected so
// far are returned; callers tell a partial result apart with ctx.Err().
func WithContext(ctx context.Context) FindOption {
	return func(o *findOptions) {
		o.ctx = ctx
	}
}

type frame struct {
	node    string
	edges   []Edge
	visited []string
}

// FindAllPaths enumerates every simple directed path from start to end that
// uses at most maxHops edges. A branch stops growing as soon as it reaches
// end. Visited nodes are tracked per branch, so a node may appear in several
// independent paths. maxHops below 1 is treated as 1.
//
// The search uses an explicit stack, and paths come back in depth-first
// discovery order.
func (g *Graph) FindAllPaths(start, end string, maxHops int, opts ...FindOption) []Path {
	if len(g.adj[start]) == 0 || !g.HasNode(end) {
		return nil
	}
	if maxHops < 1 {
		maxHops = 1
	}

	o := findOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	var paths []Path
	stack := []frame{{node: start, visited: []string{start}}}

	for steps := 1; len(stack) > 0; steps++ {
		if o.ctx != nil && steps%cancelCheckEvery == 0 && o.ctx.Err() != nil {
			return paths
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(cur.edges) >= maxHops {
			continue
		}

		for _, e := range g.adj[cur.node] {
			next := e.Target
			if slices.Contains(cur.visited, next) {
				continue
			}

			edges := make([]Edge, len(cur.edges), len(cur.edges)+1)
			copy(edges, cur.edges)
			edges = append(edges, e)

			if next == end {
				paths = append(paths, Path(edges))
				if o.maxPaths > 0 && len(paths) >= o.maxPaths {
					return paths
				}
				continue
			}

			visited := make([]string, len(cur.visited), len(cur.visited)+1)
			copy(visited, cur.visited)
			visited = append(visited, next)

			stack = append(stack, frame{node: next, edges: edges, visited: visited})
		}
	}

	return paths
}
