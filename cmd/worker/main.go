package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightlab/causal/backend/internal/queue"
	"github.com/insightlab/causal/backend/internal/storage"
	"github.com/insightlab/causal/backend/internal/timing"
	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/leaselock"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/logger/console"
	pgstore "github.com/insightlab/causal/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := storage.Migrate(util.GetEnvString("MIGRATIONS_PATH", "migrations"), databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	importer := &queue.Importer{
		Store:  pgstore.NewStore(pool),
		Locks:  leaselock.New(pool),
		Bucket: storage.Bucket(),
		Timer:  timing.New(pool),
	}
	if importer.Bucket != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		importer.Objects = s3Client
	}

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
	importer.Channel = ch

	// Imports replace the whole graph, so one message at a time is enough.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}
	msgs, err := ch.Consume(queue.ImportQueue, queue.ImportQueue+"_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ImportQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.ImportQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("Message channel closed", "queue", queue.ImportQueue)
				return
			}

			start := time.Now()
			logger.Info("Received message", "queue", queue.ImportQueue)

			if err := importer.ProcessImportMessage(ctx, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queue.ImportQueue, "err", err)
				queue.HandleProcessingError(ctx, ch, msg, msg, queue.ImportQueue, err)
				continue
			}
			if err := msg.Ack(false); err != nil {
				logger.Error("Failed to ack message", "err", err)
			}
			logger.Info("Message processed successfully", "queue", queue.ImportQueue, "duration", time.Since(start).Round(time.Millisecond))
		}
	}
}
