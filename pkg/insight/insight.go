// Package insight turns an analysis result into a short narrative using a
// language model.
package insight

import (
	"context"
	"fmt"
	"strings"

	"github.com/insightlab/causal/backend/pkg/ai"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"
)

// DefaultMaxPromptTokens keeps prompts well inside small local models.
const DefaultMaxPromptTokens = 3000

// Insight is the narrative attached to an analysis.
type Insight struct {
	Summary string   `json:"summary" jsonschema:"description=At most three sentences on how the shock reaches the target"`
	Drivers []string `json:"drivers" jsonschema:"description=The most important paths and why they matter"`
	Risks   []string `json:"risks" jsonschema:"description=Conflicts and uncertainties in the evidence"`
	// PathsShown is how many of the top paths were given to the model.
	PathsShown int `json:"paths_shown" jsonschema:"-"`
}

type Explainer struct {
	client          ai.GraphAIClient
	maxPromptTokens int
	countTokens     func(string) (int, error)
}

type Option func(*Explainer)

func WithMaxPromptTokens(n int) Option {
	return func(e *Explainer) {
		if n > 0 {
			e.maxPromptTokens = n
		}
	}
}

// WithTokenCounter replaces the tiktoken based counter.
func WithTokenCounter(fn func(string) (int, error)) Option {
	return func(e *Explainer) {
		e.countTokens = fn
	}
}

func NewExplainer(client ai.GraphAIClient, opts ...Option) *Explainer {
	e := &Explainer{
		client:          client,
		maxPromptTokens: DefaultMaxPromptTokens,
		countTokens:     ai.CountTokens,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Explain narrates res. Results without qualifying paths are answered
// without calling the model.
func (e *Explainer) Explain(ctx context.Context, q causal.Query, res causal.AnalysisResult) (*Insight, error) {
	if res.PathCount == 0 || len(res.TopPaths) == 0 {
		return &Insight{
			Summary: fmt.Sprintf("No causal path from %s to %s meets the strength threshold, so no effect is expected.", q.StartNode, q.EndNode),
			Drivers: []string{},
			Risks:   []string{},
		}, nil
	}

	prompt, shown := e.buildPrompt(q, res)

	var out Insight
	err := e.client.GenerateCompletionWithFormat(
		ctx,
		"causal_insight",
		"Narrative explanation of a causal path analysis",
		prompt,
		&out,
		ai.WithSystemPrompts(ai.InsightSystemPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate insight: %w", err)
	}

	if out.Drivers == nil {
		out.Drivers = []string{}
	}
	if out.Risks == nil {
		out.Risks = []string{}
	}
	out.PathsShown = shown

	m := e.client.GetMetrics()
	logger.Debug("[Insight] Generated insight", "paths_shown", shown, "total_tokens", m.TotalTokens, "duration_ms", m.DurationMs)
	return &out, nil
}

// buildPrompt includes as many top paths as fit the token budget, always at
// least one.
func (e *Explainer) buildPrompt(q causal.Query, res causal.AnalysisResult) (string, int) {
	n := len(res.TopPaths)
	for {
		prompt := renderPrompt(q, res, res.TopPaths[:n])
		if n == 1 {
			return prompt, n
		}
		tokens, err := e.countTokens(prompt)
		if err != nil {
			logger.Warn("[Insight] Could not count prompt tokens, sending all paths", "err", err)
			return prompt, n
		}
		if tokens <= e.maxPromptTokens {
			return prompt, n
		}
		n = max(1, min(n-1, n*3/4))
	}
}

func renderPrompt(q causal.Query, res causal.AnalysisResult, paths []causal.PathRecord) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s (strength %.4f, target %s, lag %d days)\n", p.Path, p.Strength, p.FinalSign, p.LagDays)
	}
	return fmt.Sprintf(
		ai.InsightPrompt,
		q.StartNode,
		q.StartDirection,
		q.EndNode,
		res.Direction,
		res.ProbUp,
		res.Score,
		res.PathCount,
		b.String(),
	)
}
