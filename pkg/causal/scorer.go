package causal

import (
	"cmp"
	"math"
	"slices"
)

const (
	DirectionUp      = "up"
	DirectionDown    = "down"
	DirectionNeutral = "neutral"
)

// TopPathLimit caps the number of ranked paths returned with a result. It
// does not influence the aggregate figures.
const TopPathLimit = 50

// PathRecord is a scored path as presented to callers. Edges are the
// definition records along the path, without defaults filled in.
type PathRecord struct {
	Path      string       `json:"path"`
	Edges     []EdgeRecord `json:"edges"`
	FinalSign string       `json:"final_sign"`
	Strength  float64      `json:"strength"`
	LagDays   int          `json:"lag_days"`
}

// AnalysisResult aggregates the qualifying paths between two factors into a
// directional signal.
type AnalysisResult struct {
	Direction string       `json:"direction"`
	ProbUp    float64      `json:"prob_up"`
	Score     float64      `json:"score"`
	PathCount int          `json:"path_count"`
	TopPaths  []PathRecord `json:"top_paths"`
}

// EmptyResult is the canonical "no evidence" answer.
func EmptyResult() AnalysisResult {
	return AnalysisResult{
		Direction: DirectionNeutral,
		TopPaths:  []PathRecord{},
	}
}

// PathScore holds the derived figures of a single path.
type PathScore struct {
	Strength  float64
	LagDays   int
	SignValue int
}

// ScorePath multiplies the edge weights, sums the lags and folds the edge
// signs into the start direction. Any direction other than "up" starts
// negative. Only the polarity of each sign is accumulated, which keeps the
// product bounded without changing its label.
func ScorePath(p Path, startDirection string) PathScore {
	s := PathScore{Strength: 1.0, SignValue: -1}
	if startDirection == DirectionUp {
		s.SignValue = 1
	}
	for _, e := range p {
		s.Strength *= e.Weight
		s.LagDays += e.LagDays
		s.SignValue *= cmp.Compare(e.Sign, 0)
	}
	return s
}

// SignLabel maps an accumulated sign to a direction label.
func SignLabel(v int) string {
	switch {
	case v > 0:
		return DirectionUp
	case v < 0:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

// ProcessAndAnalyzePaths scores every raw path, drops those weaker than
// minStrength, ranks the rest by rounded strength (stable, strongest first)
// and aggregates them.
//
// With no qualifying path prob_up is 0, which the direction rule maps to
// "down". Callers that want "neutral" for missing endpoints get it from
// Analyze, which never reaches this point in that case.
func ProcessAndAnalyzePaths(raw []Path, startDirection string, minStrength float64) AnalysisResult {
	records := make([]PathRecord, 0, len(raw))
	for _, p := range raw {
		if len(p) == 0 {
			continue
		}
		score := ScorePath(p, startDirection)
		if score.Strength < minStrength {
			continue
		}
		records = append(records, PathRecord{
			Path:      p.String(),
			Edges:     p.records(),
			FinalSign: SignLabel(score.SignValue),
			Strength:  roundTo(score.Strength, 4),
			LagDays:   score.LagDays,
		})
	}

	slices.SortStableFunc(records, func(a, b PathRecord) int {
		return cmp.Compare(b.Strength, a.Strength)
	})

	total := len(records)
	upCount := 0
	totalStrength := 0.0
	for _, r := range records {
		if r.FinalSign == DirectionUp {
			upCount++
		}
		totalStrength += r.Strength
	}

	probUp := 0.0
	score := 0.0
	if total > 0 {
		probUp = float64(upCount) / float64(total)
		score = totalStrength / float64(total)
	}

	direction := DirectionNeutral
	if probUp > 0.5 {
		direction = DirectionUp
	} else if probUp < 0.5 {
		direction = DirectionDown
	}

	top := records[:min(TopPathLimit, total)]

	return AnalysisResult{
		Direction: direction,
		ProbUp:    roundTo(probUp, 2),
		Score:     roundTo(score, 2),
		PathCount: total,
		TopPaths:  top,
	}
}

// roundTo rounds half to even at the given number of decimals.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.RoundToEven(v*p) / p
}
