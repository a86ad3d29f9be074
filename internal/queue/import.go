package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/insightlab/causal/backend/internal/storage"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/leaselock"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/store"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ImportLockKey serializes graph imports across workers.
const ImportLockKey = "causal-graph-import"

// ImportMessage asks a worker to replace the stored graph with a document
// from the bucket or from the worker's filesystem.
type ImportMessage struct {
	CorrelationID string    `json:"correlation_id"`
	BucketKey     string    `json:"bucket_key,omitempty"`
	FilePath      string    `json:"file_path,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

func (m ImportMessage) validate() error {
	if (m.BucketKey == "") == (m.FilePath == "") {
		return fmt.Errorf("%w: exactly one of bucket_key and file_path is required", ErrInvalidMessage)
	}
	return nil
}

func (m ImportMessage) documentName() string {
	if m.BucketKey != "" {
		return m.BucketKey
	}
	return m.FilePath
}

// GraphUpdatedMessage is broadcast on TopicGraphUpdated after an import.
type GraphUpdatedMessage struct {
	CorrelationID string    `json:"correlation_id"`
	Revision      int64     `json:"revision"`
	Nodes         int       `json:"nodes"`
	Edges         int       `json:"edges"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type definitionSaver interface {
	SaveDefinition(ctx context.Context, def *causal.Definition) (int64, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type leaser interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

type importTimer interface {
	PredictImportTime(ctx context.Context, amount int) (time.Duration, error)
	AddImportTime(ctx context.Context, revision int64, amount int, duration time.Duration) error
}

type Importer struct {
	Store   definitionSaver
	Objects objectGetter
	Bucket  string
	Locks   leaser
	Channel publisher
	// Timer is optional.
	Timer importTimer
}

// ProcessImportMessage parses the referenced document, rejects documents
// without any usable node and stores the rest as the new graph.
func (i *Importer) ProcessImportMessage(ctx context.Context, body []byte) error {
	var msg ImportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := msg.validate(); err != nil {
		return err
	}

	logger.Info("[Import] Importing graph", "correlation_id", msg.CorrelationID, "document", msg.documentName())

	opts := leaselock.Options{TTL: time.Minute, Wait: true, WaitInterval: time.Second, WaitJitter: 500 * time.Millisecond}
	return i.Locks.WithLease(ctx, ImportLockKey, opts, func(ctx context.Context) error {
		data, err := i.readDocument(ctx, msg)
		if err != nil {
			return err
		}

		def, err := store.ParseDefinition(data, store.FormatFromPath(msg.documentName()))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}

		g := causal.NewGraph(def)
		if g.NodeCount() == 0 {
			return fmt.Errorf("%w: graph document %s has no usable nodes", ErrInvalidMessage, msg.documentName())
		}
		report := g.Report()
		logger.Debug(
			"[Import] Document parsed",
			"nodes", g.NodeCount(),
			"edges", g.EdgeCount(),
			"nodes_skipped", report.NodesSkipped,
			"edges_missing_endpoint", report.EdgesMissingEndpoint,
			"edges_unknown_endpoint", report.EdgesUnknownEndpoint,
		)

		if i.Timer != nil {
			if expected, err := i.Timer.PredictImportTime(ctx, g.EdgeCount()); err == nil && expected > 0 {
				logger.Info("[Import] Expected import time", "edges", g.EdgeCount(), "expected", expected.Round(time.Millisecond))
			}
		}

		start := time.Now()
		revision, err := i.Store.SaveDefinition(ctx, def)
		if err != nil {
			return err
		}
		if i.Timer != nil {
			if err := i.Timer.AddImportTime(ctx, revision, g.EdgeCount(), time.Since(start)); err != nil {
				logger.Warn("[Import] Failed to record import time", "revision", revision, "err", err)
			}
		}

		update, err := json.Marshal(GraphUpdatedMessage{
			CorrelationID: msg.CorrelationID,
			Revision:      revision,
			Nodes:         g.NodeCount(),
			Edges:         g.EdgeCount(),
			UpdatedAt:     time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := PublishTopic(ctx, i.Channel, TopicGraphUpdated, update); err != nil {
			// The graph is stored; servers pick it up on their next reload.
			logger.Error("[Import] Failed to announce graph update", "revision", revision, "err", err)
		}

		logger.Info("[Import] Graph imported", "correlation_id", msg.CorrelationID, "revision", revision)
		return nil
	})
}

func (i *Importer) readDocument(ctx context.Context, msg ImportMessage) ([]byte, error) {
	if msg.FilePath != "" {
		data, err := os.ReadFile(msg.FilePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
			}
			return nil, fmt.Errorf("failed to read graph document: %w", err)
		}
		return data, nil
	}

	if i.Objects == nil {
		return nil, fmt.Errorf("%w: no object storage configured for bucket_key", ErrInvalidMessage)
	}
	data, err := storage.GetFile(ctx, i.Objects, i.Bucket, msg.BucketKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
		return nil, err
	}
	return data, nil
}
