package causal

import (
	"fmt"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func edge(source, target string, weight float64, sign int, lag int) Edge {
	return Edge{Source: source, Target: target, Weight: weight, Sign: sign, LagDays: lag}
}

func TestScorePath(t *testing.T) {
	p := Path{edge("A", "B", 0.8, 1, 2), edge("B", "C", 0.5, -1, 1)}

	tests := []struct {
		name      string
		direction string
		wantSign  string
	}{
		{"up flips to down", DirectionUp, DirectionDown},
		{"down flips to up", DirectionDown, DirectionUp},
		{"anything else starts negative", "sideways", DirectionUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScorePath(p, tt.direction)
			if !almostEqual(s.Strength, 0.4) {
				t.Fatalf("strength = %v, want 0.4", s.Strength)
			}
			if s.LagDays != 3 {
				t.Fatalf("lag = %d, want 3", s.LagDays)
			}
			if got := SignLabel(s.SignValue); got != tt.wantSign {
				t.Fatalf("sign = %s, want %s", got, tt.wantSign)
			}
		})
	}
}

func TestScorePath_ZeroSignIsNeutral(t *testing.T) {
	p := Path{edge("A", "B", 1, 0, 0), edge("B", "C", 1, -1, 0)}
	if got := SignLabel(ScorePath(p, DirectionUp).SignValue); got != DirectionNeutral {
		t.Fatalf("expected neutral, got %s", got)
	}
}

func TestProcessAndAnalyzePaths_DropsWeakPaths(t *testing.T) {
	raw := []Path{
		{edge("A", "B", 0.9, 1, 0)},
		{edge("A", "X", 0.1, 1, 0), edge("X", "B", 0.9, -1, 0)},
	}

	res := ProcessAndAnalyzePaths(raw, DirectionUp, 0.2)
	if res.PathCount != 1 {
		t.Fatalf("expected 1 qualifying path, got %d", res.PathCount)
	}
	if res.Direction != DirectionUp || res.ProbUp != 1 {
		t.Fatalf("weak paths must not count towards the signal: %+v", res)
	}
	if !almostEqual(res.Score, 0.9) {
		t.Fatalf("score = %v, want 0.9", res.Score)
	}
}

func TestProcessAndAnalyzePaths_RanksStably(t *testing.T) {
	raw := []Path{
		{edge("A", "B", 0.3, 1, 0)},
		{edge("A", "C", 0.6, 1, 0), edge("C", "B", 1, 1, 0)},
		{edge("A", "D", 0.3, 1, 0), edge("D", "B", 1, -1, 0)},
		{edge("A", "E", 0.6, 1, 0), edge("E", "B", 1, -1, 0)},
	}

	res := ProcessAndAnalyzePaths(raw, DirectionUp, 0)
	want := []string{"A → C → B", "A → E → B", "A → B", "A → D → B"}
	for i, w := range want {
		if res.TopPaths[i].Path != w {
			t.Fatalf("rank %d = %s, want %s", i, res.TopPaths[i].Path, w)
		}
	}
	if res.Direction != DirectionNeutral || res.ProbUp != 0.5 {
		t.Fatalf("two up and two down paths must be neutral, got %+v", res)
	}
}

func TestProcessAndAnalyzePaths_Empty(t *testing.T) {
	res := ProcessAndAnalyzePaths(nil, DirectionUp, 0.1)
	if res.PathCount != 0 || res.Score != 0 || res.ProbUp != 0 {
		t.Fatalf("unexpected aggregates: %+v", res)
	}
	if res.Direction != DirectionDown {
		t.Fatalf("empty aggregation follows the < 0.5 rule, got %s", res.Direction)
	}
	if res.TopPaths == nil || len(res.TopPaths) != 0 {
		t.Fatalf("top paths must be an empty list")
	}
}

func TestProcessAndAnalyzePaths_TopPathCapDoesNotAffectAggregates(t *testing.T) {
	raw := make([]Path, 0, 120)
	for i := range 120 {
		sign := 1
		if i%3 == 0 {
			sign = -1
		}
		mid := fmt.Sprintf("M%d", i)
		raw = append(raw, Path{edge("A", mid, 0.5, 1, 0), edge(mid, "B", 1, sign, 0)})
	}

	res := ProcessAndAnalyzePaths(raw, DirectionUp, 0)
	if res.PathCount != 120 {
		t.Fatalf("path count = %d, want 120", res.PathCount)
	}
	if len(res.TopPaths) != TopPathLimit {
		t.Fatalf("top paths = %d, want %d", len(res.TopPaths), TopPathLimit)
	}
	if !almostEqual(res.ProbUp, 0.67) {
		t.Fatalf("prob_up = %v, want 0.67", res.ProbUp)
	}
	if res.Direction != DirectionUp {
		t.Fatalf("direction = %s, want up", res.Direction)
	}
}

func TestProcessAndAnalyzePaths_RoundsStrength(t *testing.T) {
	raw := []Path{{edge("A", "B", 0.123456, 1, 0)}}
	res := ProcessAndAnalyzePaths(raw, DirectionUp, 0)
	if !almostEqual(res.TopPaths[0].Strength, 0.1235) {
		t.Fatalf("strength = %v, want 0.1235", res.TopPaths[0].Strength)
	}
	if !almostEqual(res.Score, 0.12) {
		t.Fatalf("score = %v, want 0.12", res.Score)
	}
}

func TestProcessAndAnalyzePaths_Ranges(t *testing.T) {
	for seed := uint64(1); seed <= 10; seed++ {
		g := NewGraph(randomDefinition(seed, 10, 50))
		minStrength := 0.05
		res := ProcessAndAnalyzePaths(g.FindAllPaths("n0", "n5", 5), DirectionDown, minStrength)
		if res.ProbUp < 0 || res.ProbUp > 1 {
			t.Fatalf("seed %d: prob_up out of range: %v", seed, res.ProbUp)
		}
		if res.Score < 0 {
			t.Fatalf("seed %d: negative score %v", seed, res.Score)
		}
		if res.PathCount == 0 && res.Score != 0 {
			t.Fatalf("seed %d: score must be 0 without paths", seed)
		}
		for _, p := range res.TopPaths {
			if p.Strength < minStrength {
				t.Fatalf("seed %d: path %s below threshold: %v", seed, p.Path, p.Strength)
			}
		}
	}
}
