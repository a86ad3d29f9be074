// Package timing records how long graph imports take and predicts the
// duration of the next one from that history.
package timing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// historyWindow is the number of recent imports a prediction is based on.
const historyWindow = 20

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Recorder struct {
	db dbConn
}

func New(db dbConn) *Recorder {
	return &Recorder{db: db}
}

// AddImportTime stores the duration of an import of amount edges.
func (r *Recorder) AddImportTime(ctx context.Context, revision int64, amount int, duration time.Duration) error {
	_, err := r.db.Exec(ctx, addImportTimeSQL, revision, int32(amount), duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record import time: %w", err)
	}
	return nil
}

// PredictImportTime scales the average time per edge of recent imports to
// amount edges. Without history it returns zero.
func (r *Recorder) PredictImportTime(ctx context.Context, amount int) (time.Duration, error) {
	var msPerEdge float64
	if err := r.db.QueryRow(ctx, predictImportTimeSQL, historyWindow).Scan(&msPerEdge); err != nil {
		return 0, fmt.Errorf("failed to predict import time: %w", err)
	}
	return time.Duration(msPerEdge * float64(amount) * float64(time.Millisecond)), nil
}

const addImportTimeSQL = `
INSERT INTO import_stats (revision, amount, duration_ms)
VALUES ($1, $2, $3)
`

const predictImportTimeSQL = `
SELECT COALESCE(SUM(duration_ms)::float8 / NULLIF(SUM(amount), 0), 0)
FROM (
  SELECT duration_ms, amount FROM import_stats ORDER BY id DESC LIMIT $1
) recent
`
