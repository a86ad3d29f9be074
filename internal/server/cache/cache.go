// Package cache keeps recent analysis results. Entries are keyed by the
// graph version they were computed on, so a reload never serves stale
// answers.
package cache

import (
	"fmt"
	"time"

	"github.com/insightlab/causal/backend/pkg/causal"

	"github.com/dgraph-io/ristretto/v2"
)

type Results struct {
	ttl   time.Duration
	store *ristretto.Cache[string, causal.AnalysisResult]
}

// New returns a cache holding at most maxEntries results for ttl. A ttl of
// zero or less disables caching.
func New(ttl time.Duration, maxEntries int64) (*Results, error) {
	if ttl <= 0 {
		return &Results{}, nil
	}
	if maxEntries <= 0 {
		maxEntries = 10_000
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, causal.AnalysisResult]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &Results{ttl: ttl, store: store}, nil
}

// key quotes the string fields, so node ids containing the separator
// cannot collide.
func key(version uint64, q causal.Query) string {
	return fmt.Sprintf(
		"%d|%q|%q|%q|%d|%g|%d",
		version, q.StartNode, q.EndNode, q.StartDirection, q.MaxHops, q.MinStrength, q.MaxPaths,
	)
}

func (r *Results) Get(version uint64, q causal.Query) (causal.AnalysisResult, bool) {
	if r == nil || r.store == nil {
		return causal.AnalysisResult{}, false
	}
	return r.store.Get(key(version, q))
}

// Put stores res. Writes are applied asynchronously.
func (r *Results) Put(version uint64, q causal.Query, res causal.AnalysisResult) {
	if r == nil || r.store == nil {
		return
	}
	r.store.SetWithTTL(key(version, q), res, 1, r.ttl)
}

// Wait blocks until pending writes are visible.
func (r *Results) Wait() {
	if r != nil && r.store != nil {
		r.store.Wait()
	}
}

func (r *Results) Close() {
	if r != nil && r.store != nil {
		r.store.Close()
	}
}
