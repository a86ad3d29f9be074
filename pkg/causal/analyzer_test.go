package causal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func scenarioDefinition() *Definition {
	return &Definition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []EdgeRecord{
			{Source: "A", Target: "B", Weight: Float(0.8), Sign: Int(1), LagDays: Int(2)},
			{Source: "B", Target: "C", Weight: Float(0.5), Sign: Int(-1), LagDays: Int(1)},
		},
	}
}

func query(start, end, direction string, maxHops int, minStrength float64) Query {
	return Query{
		StartNode:      start,
		EndNode:        end,
		StartDirection: direction,
		MaxHops:        maxHops,
		MinStrength:    minStrength,
	}
}

func TestAnalyze_ScenarioA(t *testing.T) {
	a := NewAnalyzerFromDefinition(scenarioDefinition())

	res := a.Analyze(query("A", "C", DirectionUp, 6, 0.1))
	if res.PathCount != 1 {
		t.Fatalf("path count = %d, want 1", res.PathCount)
	}
	p := res.TopPaths[0]
	if !almostEqual(p.Strength, 0.4) || p.FinalSign != DirectionDown || p.LagDays != 3 {
		t.Fatalf("unexpected path record: %+v", p)
	}
	if p.Path != "A → B → C" {
		t.Fatalf("unexpected display string %q", p.Path)
	}
	if res.Direction != DirectionDown || res.ProbUp != 0 || !almostEqual(res.Score, 0.4) {
		t.Fatalf("unexpected aggregates: %+v", res)
	}
}

func TestAnalyze_ScenarioB(t *testing.T) {
	a := NewAnalyzerFromDefinition(scenarioDefinition())

	res := a.Analyze(query("A", "C", DirectionUp, 6, 0.5))
	if res.PathCount != 0 || res.Score != 0 {
		t.Fatalf("expected no qualifying paths, got %+v", res)
	}
	if res.Direction != DirectionDown {
		t.Fatalf("direction = %s, want down", res.Direction)
	}
}

func TestAnalyze_ScenarioC(t *testing.T) {
	a := NewAnalyzerFromDefinition(scenarioDefinition())

	for _, end := range []string{"A", "B", "C", "missing"} {
		res := a.Analyze(query("C", end, DirectionUp, 6, 0))
		if res.PathCount != 0 {
			t.Fatalf("end %s: expected no paths from an edgeless start", end)
		}
		if diff := cmp.Diff(EmptyResult(), res); diff != "" {
			t.Fatalf("end %s: expected the canonical empty result (-want +got):\n%s", end, diff)
		}
	}
}

func TestAnalyze_ScenarioD(t *testing.T) {
	a := NewAnalyzerFromDefinition(&Definition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []EdgeRecord{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "A"},
			{Source: "B", Target: "C"},
		},
	})

	res := a.Analyze(query("A", "C", DirectionUp, 6, 0))
	if res.PathCount != 1 || res.TopPaths[0].Path != "A → B → C" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAnalyze_ScenarioE(t *testing.T) {
	a := NewAnalyzerFromDefinition(scenarioDefinition())

	res := a.Analyze(query("A", "Z", DirectionUp, 6, 0.1))
	if diff := cmp.Diff(EmptyResult(), res); diff != "" {
		t.Fatalf("expected the canonical empty result (-want +got):\n%s", diff)
	}
}

func TestAnalyze_TopPathsCarryDefinitionRecords(t *testing.T) {
	a := NewAnalyzerFromDefinition(&Definition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []EdgeRecord{
			{Source: "A", Target: "B", Attributes: map[string]any{"evidence": "paper"}},
			{Source: "B", Target: "C", Sign: Int(-1)},
		},
	})

	res := a.Analyze(query("A", "C", DirectionUp, 6, 0))
	if res.PathCount != 1 {
		t.Fatalf("path count = %d, want 1", res.PathCount)
	}
	data, err := json.Marshal(res.TopPaths[0].Edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `[{"evidence":"paper","source":"A","target":"B"},{"sign":-1,"source":"B","target":"C"}]`
	if string(data) != want {
		t.Fatalf("edges must be reported as defined, without defaults:\ngot  %s\nwant %s", data, want)
	}
	if res.TopPaths[0].FinalSign != DirectionDown {
		t.Fatalf("defaults must still apply to scoring, got %s", res.TopPaths[0].FinalSign)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	a := NewAnalyzerFromDefinition(randomDefinition(11, 12, 60))
	q := query("n0", "n7", DirectionDown, 5, 0.01)

	first := a.Analyze(q)
	second := a.Analyze(q)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated queries must be identical (-first +second):\n%s", diff)
	}
}

func TestAnalyzeContext_Cancelled(t *testing.T) {
	g := NewGraph(completeDefinition(9))
	q := query("n0", "n8", DirectionUp, 8, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := g.AnalyzeContext(ctx, q)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if diff := cmp.Diff(EmptyResult(), res); diff != "" {
		t.Fatalf("abandoned analysis must not report partial paths (-want +got):\n%s", diff)
	}

	res, err = g.AnalyzeContext(context.Background(), query("n0", "n8", DirectionUp, 2, 0))
	if err != nil || res.PathCount != 8 {
		t.Fatalf("expected 8 paths within two hops, got %d (%v)", res.PathCount, err)
	}
}

func TestNewQuery_Defaults(t *testing.T) {
	q := NewQuery("A", "B", DirectionUp)
	if q.MaxHops != DefaultMaxHops || q.MinStrength != DefaultMinStrength || q.MaxPaths != 0 {
		t.Fatalf("unexpected defaults: %+v", q)
	}
}

func TestNewAnalyzer_FailingSourceStartsEmpty(t *testing.T) {
	a := NewAnalyzer(context.Background(), &stubSource{err: errors.New("unreadable")})

	if a.Graph().NodeCount() != 0 {
		t.Fatalf("expected empty graph")
	}
	res := a.Analyze(query("A", "C", DirectionUp, 6, 0.1))
	if diff := cmp.Diff(EmptyResult(), res); diff != "" {
		t.Fatalf("expected the canonical empty result (-want +got):\n%s", diff)
	}
}

func TestAnalyzer_Reload(t *testing.T) {
	src := &stubSource{def: &Definition{Nodes: []Node{{ID: "A"}}}}
	a := NewAnalyzer(context.Background(), src)

	before := a.Graph()
	if before.Version() != 1 {
		t.Fatalf("initial version = %d, want 1", before.Version())
	}

	src.def = scenarioDefinition()
	g, err := a.Reload(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Version() != 2 || a.Graph() != g {
		t.Fatalf("reload must publish a new snapshot")
	}
	if before.NodeCount() != 1 {
		t.Fatalf("old snapshot must stay untouched")
	}
	if res := a.Analyze(query("A", "C", DirectionUp, 6, 0.1)); res.PathCount != 1 {
		t.Fatalf("expected the new graph to be queried")
	}

	src.err = errors.New("gone")
	kept, err := a.Reload(context.Background())
	if err == nil {
		t.Fatalf("expected an error from a failing reload")
	}
	if kept != g || a.Graph() != g {
		t.Fatalf("failed reload must keep the current graph")
	}
}

// gatedSource reads its definition when a load starts and, while a gate is
// set, blocks that load until the gate is closed.
type gatedSource struct {
	mu      sync.Mutex
	def     *Definition
	gate    chan struct{}
	started chan struct{}
}

func (s *gatedSource) Name() string { return "gated" }

func (s *gatedSource) LoadDefinition(ctx context.Context) (*Definition, error) {
	s.mu.Lock()
	def, gate, started := s.def, s.gate, s.started
	s.gate, s.started = nil, nil
	s.mu.Unlock()

	if gate != nil {
		close(started)
		<-gate
	}
	return def, nil
}

func (s *gatedSource) set(def *Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = def
}

func (s *gatedSource) block() (started, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = make(chan struct{})
	s.gate = make(chan struct{})
	return s.started, s.gate
}

func TestAnalyzer_ReloadAfterChangeDuringLoad(t *testing.T) {
	src := &gatedSource{def: &Definition{Nodes: []Node{{ID: "A"}}}}
	a := NewAnalyzer(context.Background(), src)

	started, release := src.block()
	first := make(chan *Graph, 1)
	go func() {
		g, _ := a.Reload(context.Background())
		first <- g
	}()
	<-started

	// The source changes after the running load has read it.
	src.set(scenarioDefinition())
	second := make(chan *Graph, 1)
	go func() {
		g, _ := a.Reload(context.Background())
		second <- g
	}()

	deadline := time.Now().Add(5 * time.Second)
	for a.requested.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second reload never started")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if g := <-first; g.NodeCount() != 1 {
		t.Fatalf("first reload must publish what it read, got %d nodes", g.NodeCount())
	}
	g := <-second
	if g.NodeCount() != 3 {
		t.Fatalf("a reload requested during a running load must see the new data, got %d nodes", g.NodeCount())
	}
	if a.Graph() != g || g.Version() != 3 {
		t.Fatalf("expected the newest graph to be current, version %d", a.Graph().Version())
	}
}

func TestAnalyzer_WaitingReloadsShareLaterLoad(t *testing.T) {
	src := &gatedSource{def: &Definition{Nodes: []Node{{ID: "A"}}}}
	a := NewAnalyzer(context.Background(), src)

	started, release := src.block()
	go func() {
		_, _ = a.Reload(context.Background())
	}()
	<-started

	src.set(scenarioDefinition())
	var wg sync.WaitGroup
	results := make([]*Graph, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = a.Reload(context.Background())
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for a.requested.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("reloads never started")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, g := range results {
		if g.NodeCount() != 3 {
			t.Fatalf("reload %d returned stale graph with %d nodes", i, g.NodeCount())
		}
	}
	if v := a.Graph().Version(); v != 3 {
		t.Fatalf("waiting reloads must share one load, version = %d, want 3", v)
	}
}

func TestAnalyzer_ReloadWithoutSource(t *testing.T) {
	a := NewAnalyzerFromDefinition(scenarioDefinition())
	if _, err := a.Reload(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestAnalyzer_ConcurrentQueriesDuringReload(t *testing.T) {
	src := &stubSource{def: randomDefinition(5, 10, 40)}
	a := NewAnalyzer(context.Background(), src)
	q := query("n0", "n9", DirectionUp, 4, 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				res := a.Analyze(q)
				if res.ProbUp < 0 || res.ProbUp > 1 {
					t.Errorf("prob_up out of range: %v", res.ProbUp)
					return
				}
			}
		}()
	}
	for range 10 {
		if _, err := a.Reload(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	wg.Wait()
}
