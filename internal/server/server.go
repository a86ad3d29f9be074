package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightlab/causal/backend/internal/metrics"
	"github.com/insightlab/causal/backend/internal/queue"
	"github.com/insightlab/causal/backend/internal/server/cache"
	mid "github.com/insightlab/causal/backend/internal/server/middleware"
	"github.com/insightlab/causal/backend/internal/storage"
	"github.com/insightlab/causal/backend/internal/telemetry"
	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/internal/watch"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

type Config struct {
	// RateLimit is requests per second per client IP; 0 disables it.
	RateLimit float64
	BodyLimit string
}

// New builds the echo instance serving app.
func New(app *mid.App, cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "32M"
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(mid.RateLimiter(cfg.RateLimit))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	RegisterRoutes(e)
	return e
}

// reloadTrigger adapts App.Reload for callers that do not name a trigger.
type reloadTrigger struct {
	app     *mid.App
	trigger string
}

func (r reloadTrigger) Reload(ctx context.Context) (*causal.Graph, error) {
	return r.app.Reload(ctx, r.trigger)
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "causal-server",
		Stdout:      util.GetEnvBool("OTEL_STDOUT", false),
	})
	if err != nil {
		logger.Fatal("Failed to initialise tracing", "err", err)
	}
	defer shutdownTracing(context.Background())

	src, closeSource, err := openSource(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph source", "err", err)
	}
	defer closeSource()

	analyzer := causal.NewAnalyzer(ctx, src)
	metrics.SetGraph(analyzer.Graph())

	results, err := cache.New(
		util.GetEnvDuration("CACHE_TTL", 5*time.Minute),
		int64(util.GetEnvInt("CACHE_SIZE", 10_000)),
	)
	if err != nil {
		logger.Fatal("Failed to create result cache", "err", err)
	}
	defer results.Close()

	app := &mid.App{
		Analyzer:       analyzer,
		Results:        results,
		Explainer:      newExplainer(),
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		AnalyzeTimeout: util.GetEnvDuration("ANALYZE_TIMEOUT", 10*time.Second),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	}

	if bucket := storage.Bucket(); bucket != "" {
		s3, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.S3 = s3
		app.Bucket = bucket
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		conn, err := queue.Init(ctx)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch

		updates, err := queue.SubscribeTopic(ch, queue.TopicGraphUpdated)
		if err != nil {
			logger.Fatal("Failed to subscribe to graph updates", "err", err)
		}
		go queue.ListenForGraphUpdates(ctx, updates, reloadTrigger{app: app, trigger: "queue"})
	}

	if path := watchedFile(src); path != "" && util.GetEnvBool("GRAPH_WATCH", false) {
		w, err := watch.New(path, util.GetEnvDuration("GRAPH_WATCH_DEBOUNCE", watch.DefaultDebounce), func(ctx context.Context) {
			app.Reload(ctx, "watch")
		})
		if err != nil {
			logger.Fatal("Failed to watch graph file", "path", path, "err", err)
		}
		go w.Run(ctx)
		logger.Info("Watching graph file", "path", path)
	}

	e := New(app, Config{
		RateLimit: util.GetEnvNumeric("RATE_LIMIT", 20),
		BodyLimit: util.GetEnvString("BODY_LIMIT", "32M"),
	})

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
