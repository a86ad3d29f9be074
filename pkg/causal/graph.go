package causal

import (
	"context"
	"encoding/json"
	"maps"
	"strings"
	"time"

	"github.com/insightlab/causal/backend/pkg/logger"
)

const (
	DefaultWeight  = 1.0
	DefaultLagDays = 0
	DefaultSign    = 1
)

// Source supplies graph definitions. Implementations live in pkg/store.
type Source interface {
	Name() string
	LoadDefinition(ctx context.Context) (*Definition, error)
}

// Edge is a resolved, directed causal link with all defaults applied.
type Edge struct {
	Source     string
	Target     string
	Weight     float64
	LagDays    int
	Sign       int
	Attributes map[string]any
	// Record is the definition record the edge was resolved from; nil for
	// edges built in code.
	Record *EdgeRecord
}

// RawRecord returns the record behind e as it appeared in the definition.
// Edges built in code report their resolved values.
func (e Edge) RawRecord() EdgeRecord {
	if e.Record != nil {
		return *e.Record
	}
	return EdgeRecord{
		Source:     e.Source,
		Target:     e.Target,
		Weight:     Float(e.Weight),
		LagDays:    Int(e.LagDays),
		Sign:       Int(e.Sign),
		Attributes: e.Attributes,
	}
}

// MarshalJSON writes the edge as a flat record, extra attributes included.
func (e Edge) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Attributes)+5)
	maps.Copy(out, e.Attributes)
	out["source"] = e.Source
	out["target"] = e.Target
	out["weight"] = e.Weight
	out["lag_days"] = e.LagDays
	out["sign"] = e.Sign
	return json.Marshal(out)
}

// LoadReport counts the records that were dropped while building a graph.
type LoadReport struct {
	NodesSkipped         int `json:"nodes_skipped"`
	EdgesMissingEndpoint int `json:"edges_missing_endpoint"`
	EdgesUnknownEndpoint int `json:"edges_unknown_endpoint"`
}

// Graph is an immutable adjacency structure. Once returned by NewGraph it is
// never modified and can be read from any number of goroutines.
type Graph struct {
	nodes     map[string]Node
	order     []string
	adj       map[string][]Edge
	edgeCount int
	report    LoadReport
	version   uint64
	loadedAt  time.Time
}

// EmptyGraph returns a valid graph without nodes or edges.
func EmptyGraph() *Graph {
	return &Graph{
		nodes:    map[string]Node{},
		adj:      map[string][]Edge{},
		loadedAt: time.Now(),
	}
}

// NewGraph materializes a definition. Nodes without an id are skipped and
// edges are only kept when both endpoints are known nodes, so every
// adjacency entry references a real node. A nil definition yields an empty
// graph.
func NewGraph(def *Definition) *Graph {
	g := EmptyGraph()
	if def == nil {
		return g
	}

	for _, n := range def.Nodes {
		id := n.ID
		if strings.TrimSpace(id) == "" {
			g.report.NodesSkipped++
			continue
		}
		if _, exists := g.nodes[id]; !exists {
			g.order = append(g.order, id)
			g.adj[id] = []Edge{}
		}
		g.nodes[id] = n
	}

	for _, rec := range def.Edges {
		if strings.TrimSpace(rec.Source) == "" || strings.TrimSpace(rec.Target) == "" {
			g.report.EdgesMissingEndpoint++
			continue
		}
		_, hasSource := g.nodes[rec.Source]
		_, hasTarget := g.nodes[rec.Target]
		if !hasSource || !hasTarget {
			g.report.EdgesUnknownEndpoint++
			continue
		}
		g.adj[rec.Source] = append(g.adj[rec.Source], resolveEdge(rec))
		g.edgeCount++
	}

	return g
}

func resolveEdge(rec EdgeRecord) Edge {
	e := Edge{
		Source:     rec.Source,
		Target:     rec.Target,
		Weight:     DefaultWeight,
		LagDays:    DefaultLagDays,
		Sign:       DefaultSign,
		Attributes: rec.Attributes,
		Record:     &rec,
	}
	if rec.Weight != nil {
		e.Weight = *rec.Weight
	}
	if rec.LagDays != nil {
		e.LagDays = *rec.LagDays
	}
	if rec.Sign != nil {
		e.Sign = *rec.Sign
	}
	return e
}

// LoadGraph reads a definition from src and builds a graph from it. A source
// that cannot be read or parsed is logged and results in an empty graph; the
// error never reaches query callers.
func LoadGraph(ctx context.Context, src Source) *Graph {
	if src == nil {
		logger.Warn("[Graph] No graph source configured, starting with an empty graph")
		return EmptyGraph()
	}

	def, err := src.LoadDefinition(ctx)
	if err != nil {
		logger.Error("[Graph] Could not load causal graph", "source", src.Name(), "err", err)
		return EmptyGraph()
	}

	g := NewGraph(def)
	logger.Info(
		"[Graph] Causal graph loaded",
		"source", src.Name(),
		"nodes", g.NodeCount(),
		"edges", g.EdgeCount(),
	)
	if g.report != (LoadReport{}) {
		logger.Debug(
			"[Graph] Dropped malformed records",
			"nodes_skipped", g.report.NodesSkipped,
			"edges_missing_endpoint", g.report.EdgesMissingEndpoint,
			"edges_unknown_endpoint", g.report.EdgesUnknownEndpoint,
		)
	}
	return g
}

// HasNode reports whether id is a known node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in definition order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// OutgoingEdges returns the edges leaving id, in definition order. The
// returned slice must not be modified.
func (g *Graph) OutgoingEdges(id string) []Edge {
	return g.adj[id]
}

func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	return g.edgeCount
}

// Report describes what was dropped while building the graph.
func (g *Graph) Report() LoadReport {
	return g.report
}

// Version is the load sequence number assigned by the Analyzer that owns the
// graph. Graphs built directly with NewGraph have version 0.
func (g *Graph) Version() uint64 {
	return g.version
}

func (g *Graph) LoadedAt() time.Time {
	return g.loadedAt
}
