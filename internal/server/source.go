package server

import (
	"context"
	"fmt"

	"github.com/insightlab/causal/backend/internal/storage"
	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/store/file"
	pgstore "github.com/insightlab/causal/backend/pkg/store/pgx"
	s3store "github.com/insightlab/causal/backend/pkg/store/s3"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultGraphFile = "data/causal_graph.json"

// openSource picks the graph source named by GRAPH_SOURCE. The returned
// func releases whatever the source holds open.
func openSource(ctx context.Context) (causal.Source, func(), error) {
	kind := util.GetEnvString("GRAPH_SOURCE", "file")
	logger.Info("Using graph source", "kind", kind)

	switch kind {
	case "file":
		return file.NewSource(util.GetEnvString("GRAPH_FILE", defaultGraphFile)), func() {}, nil

	case "s3":
		bucket := storage.Bucket()
		if bucket == "" {
			return nil, nil, fmt.Errorf("GRAPH_SOURCE=s3 requires AWS_BUCKET")
		}
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, nil, err
		}
		key := util.GetEnvString("GRAPH_S3_KEY", "causal_graph.json")
		return s3store.NewSource(client, bucket, key), func() {}, nil

	case "postgres":
		databaseURL := util.GetEnv("DATABASE_URL")
		if err := storage.Migrate(util.GetEnvString("MIGRATIONS_PATH", "migrations"), databaseURL); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pgstore.NewStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown GRAPH_SOURCE %q", kind)
	}
}

func watchedFile(src causal.Source) string {
	if f, ok := src.(*file.Source); ok {
		return f.Path()
	}
	return ""
}
