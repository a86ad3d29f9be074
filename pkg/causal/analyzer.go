package causal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insightlab/causal/backend/pkg/logger"
)

// DefaultMinStrength is the threshold used when a caller does not pick one.
const DefaultMinStrength = 0.05

var ErrNoSource = errors.New("analyzer has no graph source")

// Query selects the two factors to connect and how the paths between them
// are searched and filtered.
type Query struct {
	StartNode      string
	EndNode        string
	StartDirection string
	MaxHops        int
	MinStrength    float64
	// MaxPaths bounds path enumeration; zero means unbounded.
	MaxPaths int
}

// NewQuery returns a query with the default hop budget and strength
// threshold.
func NewQuery(start, end, startDirection string) Query {
	return Query{
		StartNode:      start,
		EndNode:        end,
		StartDirection: startDirection,
		MaxHops:        DefaultMaxHops,
		MinStrength:    DefaultMinStrength,
	}
}

// Analyze runs a query against this graph snapshot. Unknown endpoints and a
// start node without outgoing edges give the canonical empty result without
// searching.
func (g *Graph) Analyze(q Query) AnalysisResult {
	res, _ := g.AnalyzeContext(context.Background(), q)
	return res
}

// AnalyzeContext is Analyze with a search that stops once ctx is done. An
// abandoned search returns the empty result and ctx.Err().
func (g *Graph) AnalyzeContext(ctx context.Context, q Query) (AnalysisResult, error) {
	if !g.HasNode(q.StartNode) || len(g.OutgoingEdges(q.StartNode)) == 0 || !g.HasNode(q.EndNode) {
		return EmptyResult(), nil
	}
	paths := g.FindAllPaths(q.StartNode, q.EndNode, q.MaxHops, WithMaxPaths(q.MaxPaths), WithContext(ctx))
	if err := ctx.Err(); err != nil {
		return EmptyResult(), err
	}
	return ProcessAndAnalyzePaths(paths, q.StartDirection, q.MinStrength), nil
}

// Analyzer owns the current graph and answers queries against it. The graph
// is swapped as a whole on reload, so every query sees exactly one
// consistent snapshot.
type Analyzer struct {
	source  Source
	graph   atomic.Pointer[Graph]
	version atomic.Uint64

	// requested counts Reload calls. loaded is the request count observed
	// when the current graph started loading; guarded by reloadMu.
	requested atomic.Uint64
	reloadMu  sync.Mutex
	loaded    uint64
}

// NewAnalyzer loads the graph from src. A failing source leaves the analyzer
// with an empty graph; queries then return empty results until a reload
// succeeds.
func NewAnalyzer(ctx context.Context, src Source) *Analyzer {
	a := &Analyzer{source: src}
	a.publish(LoadGraph(ctx, src))
	return a
}

// NewAnalyzerFromDefinition builds an analyzer around a fixed definition.
// Reload is not available on it.
func NewAnalyzerFromDefinition(def *Definition) *Analyzer {
	a := &Analyzer{}
	a.publish(NewGraph(def))
	return a
}

func (a *Analyzer) publish(g *Graph) {
	g.version = a.version.Add(1)
	g.loadedAt = time.Now()
	a.graph.Store(g)
}

// Graph returns the current snapshot.
func (a *Analyzer) Graph() *Graph {
	return a.graph.Load()
}

// Source returns the configured graph source, which may be nil.
func (a *Analyzer) Source() Source {
	return a.source
}

// Analyze answers q against the current snapshot.
func (a *Analyzer) Analyze(q Query) AnalysisResult {
	return a.Graph().Analyze(q)
}

// Reload builds a new graph from the source and swaps it in. Loads run one
// at a time. A call that waited while another load ran shares that load's
// graph only if the load began after the call was made; otherwise it loads
// again. On failure the previous graph stays in place and the error is
// returned.
func (a *Analyzer) Reload(ctx context.Context) (*Graph, error) {
	if a.source == nil {
		return a.Graph(), ErrNoSource
	}

	req := a.requested.Add(1)
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if a.loaded >= req {
		return a.Graph(), nil
	}
	if err := ctx.Err(); err != nil {
		return a.Graph(), err
	}

	covers := a.requested.Load()
	def, err := a.source.LoadDefinition(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load graph from %s: %w", a.source.Name(), err)
		logger.Warn("[Analyzer] Reload failed, keeping current graph", "err", err)
		return a.Graph(), err
	}

	g := NewGraph(def)
	a.publish(g)
	a.loaded = covers
	logger.Info(
		"[Analyzer] Graph reloaded",
		"source", a.source.Name(),
		"version", g.Version(),
		"nodes", g.NodeCount(),
		"edges", g.EdgeCount(),
	)
	return g, nil
}
