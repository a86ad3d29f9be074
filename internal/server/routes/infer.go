package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/insightlab/causal/backend/internal/metrics"
	"github.com/insightlab/causal/backend/internal/server/middleware"
	"github.com/insightlab/causal/backend/internal/telemetry"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/insight"
	"github.com/insightlab/causal/backend/pkg/logger"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

const (
	DefaultMaxPaths = 5000
)

type inferPathsBody struct {
	Start          string   `json:"start" validate:"required"`
	End            string   `json:"end" validate:"required"`
	StartDirection string   `json:"start_direction" validate:"required,oneof=up down"`
	MaxHops        *int     `json:"max_hops" validate:"omitempty,min=1,max=12"`
	MinStrength    *float64 `json:"min_strength" validate:"omitempty,min=0,max=1"`
	MaxPaths       *int     `json:"max_paths" validate:"omitempty,min=1,max=100000"`
}

func (b *inferPathsBody) query() causal.Query {
	q := causal.NewQuery(b.Start, b.End, b.StartDirection)
	q.MaxPaths = DefaultMaxPaths
	if b.MaxHops != nil {
		q.MaxHops = *b.MaxHops
	}
	if b.MinStrength != nil {
		q.MinStrength = *b.MinStrength
	}
	if b.MaxPaths != nil {
		q.MaxPaths = *b.MaxPaths
	}
	return q
}

type inferPathsResponse struct {
	causal.AnalysisResult
	Start          string `json:"start"`
	End            string `json:"end"`
	StartDirection string `json:"start_direction"`
	GraphVersion   uint64 `json:"graph_version"`
	Cached         bool   `json:"cached"`
}

type inferInsightResponse struct {
	inferPathsResponse
	Insight *insight.Insight `json:"insight"`
}

func bindQuery(c echo.Context) (causal.Query, error) {
	data := new(inferPathsBody)
	if err := c.Bind(data); err != nil {
		return causal.Query{}, err
	}
	if err := c.Validate(data); err != nil {
		return causal.Query{}, err
	}
	return data.query(), nil
}

// runAnalysis answers q from the cache or the current graph snapshot. On
// timeout the search is abandoned and nothing is cached.
func runAnalysis(ctx context.Context, app *middleware.App, q causal.Query) (inferPathsResponse, error) {
	g := app.Analyzer.Graph()
	resp := inferPathsResponse{
		Start:          q.StartNode,
		End:            q.EndNode,
		StartDirection: q.StartDirection,
		GraphVersion:   g.Version(),
	}

	if res, ok := app.Results.Get(g.Version(), q); ok {
		resp.AnalysisResult = res
		resp.Cached = true
		return resp, nil
	}

	if app.AnalyzeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.AnalyzeTimeout)
		defer cancel()
	}

	done := make(chan causal.AnalysisResult, 1)
	go func() {
		_, span := telemetry.StartAnalyze(ctx, q)
		start := time.Now()
		res, err := g.AnalyzeContext(ctx, q)
		telemetry.EndAnalyze(span, res, err)
		if err != nil {
			return
		}
		metrics.ObserveAnalysis(res, time.Since(start))
		app.Results.Put(g.Version(), q, res)
		done <- res
	}()

	select {
	case res := <-done:
		resp.AnalysisResult = res
		return resp, nil
	case <-ctx.Done():
		return resp, ctx.Err()
	}
}

func analysisError(c echo.Context, q causal.Query, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("[Server] Analysis timed out", "start", q.StartNode, "end", q.EndNode, "max_hops", q.MaxHops)
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "Analysis timed out"})
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Request cancelled"})
}

// InferPathsHandler enumerates and scores the causal paths between two
// factors.
func InferPathsHandler(c echo.Context) error {
	q, err := bindQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	resp, err := runAnalysis(c.Request().Context(), app, q)
	if err != nil {
		return analysisError(c, q, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// InferInsightHandler runs the analysis and asks the language model to
// narrate it.
func InferInsightHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Explainer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "No AI adapter configured"})
	}

	q, err := bindQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	ctx := c.Request().Context()
	resp, err := runAnalysis(ctx, app, q)
	if err != nil {
		return analysisError(c, q, err)
	}

	narrative, err := app.Explainer.Explain(ctx, q, resp.AnalysisResult)
	if err != nil {
		logger.Error("[Server] Failed to explain analysis", "start", q.StartNode, "end", q.EndNode, "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to generate insight"})
	}

	return c.JSON(http.StatusOK, inferInsightResponse{
		inferPathsResponse: resp,
		Insight:            narrative,
	})
}
