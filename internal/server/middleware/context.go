package middleware

import (
	"context"
	"time"

	"github.com/insightlab/causal/backend/internal/metrics"
	"github.com/insightlab/causal/backend/internal/server/cache"
	"github.com/insightlab/causal/backend/internal/telemetry"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/insight"
	"github.com/insightlab/causal/backend/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

type AppUser struct {
	UserID      int64
	Role        string
	Permissions []string
}

// Publisher is satisfied by *amqp091.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// ObjectPutter is satisfied by *s3.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// App carries the process wide dependencies of the handlers. Queue, S3,
// Explainer and Keyfunc are optional.
type App struct {
	Analyzer       *causal.Analyzer
	Results        *cache.Results
	Explainer      *insight.Explainer
	Queue          Publisher
	S3             ObjectPutter
	Bucket         string
	Keyfunc        jwt.Keyfunc
	MasterAPIKey   string
	AnalyzeTimeout time.Duration
}

// Reload swaps in a freshly loaded graph. trigger names the caller in logs
// and traces.
func (a *App) Reload(ctx context.Context, trigger string) (*causal.Graph, error) {
	ctx, span := telemetry.StartReload(ctx, trigger)
	g, err := a.Analyzer.Reload(ctx)
	telemetry.EndReload(span, g, err)
	metrics.ObserveReload(g, err)
	if err != nil {
		logger.Error("[Server] Graph reload failed", "trigger", trigger, "err", err)
		return g, err
	}
	logger.Info("[Server] Graph reloaded", "trigger", trigger, "version", g.Version(), "nodes", g.NodeCount(), "edges", g.EdgeCount())
	return g, nil
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
