package causal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type stubSource struct {
	def *Definition
	err error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) LoadDefinition(ctx context.Context) (*Definition, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.def, nil
}

func TestNewGraph_AppliesEdgeDefaults(t *testing.T) {
	g := NewGraph(&Definition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []EdgeRecord{{Source: "A", Target: "B"}},
	})

	edges := g.OutgoingEdges("A")
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	want := Edge{Source: "A", Target: "B", Weight: 1.0, LagDays: 0, Sign: 1, Record: &EdgeRecord{Source: "A", Target: "B"}}
	if diff := cmp.Diff(want, edges[0]); diff != "" {
		t.Fatalf("unexpected edge (-want +got):\n%s", diff)
	}
}

func TestNewGraph_KeepsExplicitZeroes(t *testing.T) {
	g := NewGraph(&Definition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []EdgeRecord{{Source: "A", Target: "B", Weight: Float(0), Sign: Int(0), LagDays: Int(0)}},
	})

	e := g.OutgoingEdges("A")[0]
	if e.Weight != 0 || e.Sign != 0 {
		t.Fatalf("explicit zero values must not be replaced by defaults, got weight=%v sign=%d", e.Weight, e.Sign)
	}
}

func TestNewGraph_DropsMalformedRecords(t *testing.T) {
	g := NewGraph(&Definition{
		Nodes: []Node{{ID: "A"}, {ID: ""}, {ID: "  "}, {ID: "B"}},
		Edges: []EdgeRecord{
			{Source: "A", Target: "B"},
			{Source: "", Target: "B"},
			{Source: "A", Target: ""},
			{Source: "A", Target: "Z"},
			{Source: "Z", Target: "A"},
			{Source: "A", Target: "B", Weight: Float(0.3)},
		},
	})

	if g.NodeCount() != 2 {
		t.Fatalf("expected 2 nodes, got %d", g.NodeCount())
	}
	if g.EdgeCount() != 2 {
		t.Fatalf("expected 2 edges (parallel edges kept), got %d", g.EdgeCount())
	}
	want := LoadReport{NodesSkipped: 2, EdgesMissingEndpoint: 2, EdgesUnknownEndpoint: 2}
	if g.Report() != want {
		t.Fatalf("unexpected report: got %+v, want %+v", g.Report(), want)
	}
	if g.HasNode("Z") {
		t.Fatalf("unknown endpoint must not become a node")
	}
}

func TestNewGraph_AdjacencyReferencesKnownNodes(t *testing.T) {
	g := NewGraph(randomDefinition(7, 30, 120))

	for _, n := range g.Nodes() {
		for _, e := range g.OutgoingEdges(n.ID) {
			if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
				t.Fatalf("edge %s -> %s references an unknown node", e.Source, e.Target)
			}
		}
	}
	for id := range g.adj {
		if !g.HasNode(id) {
			t.Fatalf("adjacency key %q is not a node", id)
		}
	}
}

func TestGraph_Accessors(t *testing.T) {
	g := NewGraph(&Definition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []EdgeRecord{{Source: "A", Target: "B"}},
	})

	if !g.HasNode("C") {
		t.Fatalf("expected C to exist")
	}
	if got := g.OutgoingEdges("C"); len(got) != 0 {
		t.Fatalf("expected no edges for C, got %d", len(got))
	}
	if got := g.OutgoingEdges("missing"); len(got) != 0 {
		t.Fatalf("expected no edges for an unknown node, got %d", len(got))
	}

	ids := make([]string, 0)
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, ids); diff != "" {
		t.Fatalf("nodes must keep definition order (-want +got):\n%s", diff)
	}
}

func TestNewGraph_NilDefinition(t *testing.T) {
	g := NewGraph(nil)
	if g.NodeCount() != 0 || g.EdgeCount() != 0 {
		t.Fatalf("expected empty graph")
	}
}

func TestLoadGraph_SourceErrorYieldsEmptyGraph(t *testing.T) {
	g := LoadGraph(context.Background(), &stubSource{err: errors.New("boom")})
	if g == nil {
		t.Fatalf("LoadGraph must never return nil")
	}
	if g.NodeCount() != 0 {
		t.Fatalf("expected empty graph, got %d nodes", g.NodeCount())
	}
	if paths := g.FindAllPaths("A", "B", 6); len(paths) != 0 {
		t.Fatalf("expected no paths on an empty graph")
	}
}

func TestDefinition_UnmarshalJSON(t *testing.T) {
	input := `{
		"nodes": [
			{"id": "FR_credit_rating", "label": "Credit rating", "group": "macro"},
			{"label": "no id"},
			"not an object",
			{"id": 42},
			{"id": "KOSPI"}
		],
		"edges": [
			{"source": "FR_credit_rating", "target": "KOSPI", "weight": 0.7, "lag_days": 3.9, "sign": -1, "evidence": ["paper"]},
			{"source": "FR_credit_rating", "target": "KOSPI", "weight": "heavy"},
			{"target": "KOSPI"}
		]
	}`

	var def Definition
	if err := json.Unmarshal([]byte(input), &def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := NewGraph(&def)
	if g.NodeCount() != 2 {
		t.Fatalf("expected 2 nodes, got %d", g.NodeCount())
	}

	n, _ := g.Node("FR_credit_rating")
	if diff := cmp.Diff(map[string]any{"label": "Credit rating", "group": "macro"}, n.Attributes); diff != "" {
		t.Fatalf("node metadata not preserved (-want +got):\n%s", diff)
	}

	edges := g.OutgoingEdges("FR_credit_rating")
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	first := edges[0]
	if first.Weight != 0.7 || first.LagDays != 3 || first.Sign != -1 {
		t.Fatalf("unexpected first edge: %+v", first)
	}
	if _, ok := first.Attributes["evidence"]; !ok {
		t.Fatalf("extra edge fields must be preserved")
	}
	if edges[1].Weight != DefaultWeight {
		t.Fatalf("non-numeric weight must fall back to the default, got %v", edges[1].Weight)
	}
}

func TestNode_MarshalJSONFlattensAttributes(t *testing.T) {
	n := Node{ID: "A", Attributes: map[string]any{"label": "Alpha"}}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"id": "A", "label": "Alpha"}, got); diff != "" {
		t.Fatalf("unexpected JSON (-want +got):\n%s", diff)
	}
}
