package routes

import (
	"net/http"
	"time"

	"github.com/insightlab/causal/backend/internal/server/middleware"
	"github.com/insightlab/causal/backend/pkg/causal"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

type graphInfoResponse struct {
	Version  uint64            `json:"version"`
	LoadedAt time.Time         `json:"loaded_at"`
	Source   string            `json:"source"`
	Nodes    int               `json:"nodes"`
	Edges    int               `json:"edges"`
	Report   causal.LoadReport `json:"report"`
}

func graphInfo(app *middleware.App, g *causal.Graph) graphInfoResponse {
	source := ""
	if src := app.Analyzer.Source(); src != nil {
		source = src.Name()
	}
	return graphInfoResponse{
		Version:  g.Version(),
		LoadedAt: g.LoadedAt(),
		Source:   source,
		Nodes:    g.NodeCount(),
		Edges:    g.EdgeCount(),
		Report:   g.Report(),
	}
}

func GetGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	return c.JSON(http.StatusOK, graphInfo(app, app.Analyzer.Graph()))
}

func GetNodesHandler(c echo.Context) error {
	g := c.(*middleware.AppContext).App.Analyzer.Graph()
	return c.JSON(http.StatusOK, map[string]any{
		"version": g.Version(),
		"nodes":   g.Nodes(),
	})
}

func GetNodeEdgesHandler(c echo.Context) error {
	type getNodeEdgesParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(getNodeEdgesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	g := c.(*middleware.AppContext).App.Analyzer.Graph()
	node, ok := g.Node(params.ID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Node not found"})
	}

	edges := g.OutgoingEdges(params.ID)
	if edges == nil {
		edges = []causal.Edge{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"node":  node,
		"edges": edges,
	})
}
