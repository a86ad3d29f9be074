package server

import (
	"github.com/insightlab/causal/backend/internal/server/middleware"
	"github.com/insightlab/causal/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api")

	// Analysis routes
	apiRoutes.POST("/infer-paths", routes.InferPathsHandler)
	apiRoutes.POST("/infer-paths/insight", routes.InferInsightHandler)

	// Graph inspection routes
	apiRoutes.GET("/graph", routes.GetGraphHandler)
	apiRoutes.GET("/graph/nodes", routes.GetNodesHandler)
	apiRoutes.GET("/graph/nodes/:id/edges", routes.GetNodeEdgesHandler)

	// Admin routes
	adminRoutes := apiRoutes.Group("/admin", middleware.AuthMiddleware)
	adminRoutes.POST("/graph/reload", routes.ReloadGraphHandler, middleware.RequirePermission(middleware.PermissionReload))
	adminRoutes.POST("/graph/import", routes.ImportGraphHandler, middleware.RequirePermission(middleware.PermissionImport))
}
