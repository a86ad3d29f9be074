package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	BeginTx(ctx context.Context, txOptions pgxv5.TxOptions) (pgxv5.Tx, error)
}

// querier is the read surface shared by connections and transactions.
type querier interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// snapshotTx reads the revision, nodes and edges from one snapshot, so a
// concurrent SaveDefinition is seen either completely or not at all.
var snapshotTx = pgxv5.TxOptions{
	IsoLevel:   pgxv5.RepeatableRead,
	AccessMode: pgxv5.ReadOnly,
}

// Store keeps the causal graph in Postgres. Nodes and edges are stored as
// given, in definition order; resolution of defaults and unknown endpoints
// happens when the graph is built.
type Store struct {
	conn pgxIConn
}

func NewStore(conn pgxIConn) *Store {
	return &Store{conn: conn}
}

func (s *Store) Name() string {
	return "postgres"
}

// GraphRevision returns how often the graph has been replaced. Zero means
// nothing was ever saved.
func (s *Store) GraphRevision(ctx context.Context) (int64, error) {
	return graphRevision(ctx, s.conn)
}

func graphRevision(ctx context.Context, q querier) (int64, error) {
	var revision int64
	err := q.QueryRow(ctx, getRevisionSQL).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read graph revision: %w", err)
	}
	return revision, nil
}

func (s *Store) LoadDefinition(ctx context.Context) (*causal.Definition, error) {
	tx, err := s.conn.BeginTx(ctx, snapshotTx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	revision, err := graphRevision(ctx, tx)
	if err != nil {
		return nil, err
	}
	if revision == 0 {
		return nil, fmt.Errorf("postgres graph: %w", store.ErrNotFound)
	}

	def := &causal.Definition{}

	nodeRows, err := tx.Query(ctx, listNodesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	def.Nodes, err = pgxv5.CollectRows(nodeRows, func(row pgxv5.CollectableRow) (causal.Node, error) {
		var r nodeRow
		if err := row.Scan(&r.ID, &r.Attributes); err != nil {
			return causal.Node{}, err
		}
		return r.toNode()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}

	edgeRows, err := tx.Query(ctx, listEdgesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	def.Edges, err = pgxv5.CollectRows(edgeRows, func(row pgxv5.CollectableRow) (causal.EdgeRecord, error) {
		var r edgeRow
		if err := row.Scan(&r.Source, &r.Target, &r.Weight, &r.LagDays, &r.Sign, &r.Attributes); err != nil {
			return causal.EdgeRecord{}, err
		}
		return r.toRecord()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to finish read transaction: %w", err)
	}
	logger.Debug("[Store] Graph loaded", "revision", revision, "nodes", len(def.Nodes), "edges", len(def.Edges))
	return def, nil
}

// SaveDefinition replaces the stored graph in one transaction and returns
// the new revision.
func (s *Store) SaveDefinition(ctx context.Context, def *causal.Definition) (int64, error) {
	if def == nil {
		def = &causal.Definition{}
	}

	nodes, err := nodeCopyRows(def.Nodes)
	if err != nil {
		return 0, err
	}
	edges, err := edgeCopyRows(def.Edges)
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, clearGraphSQL); err != nil {
		return 0, fmt.Errorf("failed to clear graph: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgxv5.Identifier{"causal_nodes"}, nodeColumns, pgxv5.CopyFromRows(nodes)); err != nil {
		return 0, fmt.Errorf("failed to insert nodes: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgxv5.Identifier{"causal_edges"}, edgeColumns, pgxv5.CopyFromRows(edges)); err != nil {
		return 0, fmt.Errorf("failed to insert edges: %w", err)
	}

	var revision int64
	if err := tx.QueryRow(ctx, bumpRevisionSQL).Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to bump graph revision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit graph: %w", err)
	}

	logger.Info("[Store] Graph saved", "revision", revision, "nodes", len(nodes), "edges", len(edges))
	return revision, nil
}

type nodeRow struct {
	ID         string
	Attributes []byte
}

func (r nodeRow) toNode() (causal.Node, error) {
	attrs, err := decodeAttributes(r.Attributes)
	if err != nil {
		return causal.Node{}, fmt.Errorf("node %s: %w", r.ID, err)
	}
	return causal.Node{ID: r.ID, Attributes: attrs}, nil
}

type edgeRow struct {
	Source     string
	Target     string
	Weight     *float64
	LagDays    *int32
	Sign       *int32
	Attributes []byte
}

func (r edgeRow) toRecord() (causal.EdgeRecord, error) {
	attrs, err := decodeAttributes(r.Attributes)
	if err != nil {
		return causal.EdgeRecord{}, fmt.Errorf("edge %s -> %s: %w", r.Source, r.Target, err)
	}
	rec := causal.EdgeRecord{
		Source:     r.Source,
		Target:     r.Target,
		Weight:     r.Weight,
		Attributes: attrs,
	}
	if r.LagDays != nil {
		rec.LagDays = causal.Int(int(*r.LagDays))
	}
	if r.Sign != nil {
		rec.Sign = causal.Int(int(*r.Sign))
	}
	return rec, nil
}

var nodeColumns = []string{"id", "attributes", "position"}

var edgeColumns = []string{"source_id", "target_id", "weight", "lag_days", "sign", "attributes", "position"}

func nodeCopyRows(nodes []causal.Node) ([][]any, error) {
	rows := make([][]any, 0, len(nodes))
	for i, n := range nodes {
		attrs, err := encodeAttributes(n.Attributes)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		rows = append(rows, []any{util.SanitizePostgresText(n.ID), attrs, int32(i)})
	}
	return rows, nil
}

func edgeCopyRows(edges []causal.EdgeRecord) ([][]any, error) {
	rows := make([][]any, 0, len(edges))
	for i, e := range edges {
		attrs, err := encodeAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("edge %s -> %s: %w", e.Source, e.Target, err)
		}
		rows = append(rows, []any{
			util.SanitizePostgresText(e.Source),
			util.SanitizePostgresText(e.Target),
			e.Weight,
			optionalInt32(e.LagDays),
			optionalInt32(e.Sign),
			attrs,
			int32(i),
		})
	}
	return rows, nil
}

func optionalInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	out := int32(*v)
	return &out
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return util.SanitizePostgresText(string(data)), nil
}

func decodeAttributes(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

const getRevisionSQL = `
SELECT revision FROM causal_graph_meta WHERE id = 1;
`

const listNodesSQL = `
SELECT id, attributes FROM causal_nodes ORDER BY position;
`

const listEdgesSQL = `
SELECT source_id, target_id, weight, lag_days, sign, attributes
FROM causal_edges
ORDER BY position;
`

const clearGraphSQL = `
TRUNCATE causal_edges, causal_nodes;
`

const bumpRevisionSQL = `
INSERT INTO causal_graph_meta (id, revision, updated_at)
VALUES (1, 1, now())
ON CONFLICT (id) DO UPDATE
SET revision   = causal_graph_meta.revision + 1,
    updated_at = now()
RETURNING revision;
`
