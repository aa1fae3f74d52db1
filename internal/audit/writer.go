// Package audit appends a record of every served query to the catalog's
// append-only audit log. A failure here must never fail the query that
// triggered it (spec §4.8, §7) — the seller's original server wraps the
// db.add/db.commit call in a bare try/except that only prints a warning.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sharelane/dataplane/internal/catalog"
	"github.com/sharelane/dataplane/internal/predicate"
)

// Entry is everything one served query needs to record. Time is supplied
// by the caller rather than taken here, so the pipeline's injected clock
// stays the single source of truth for "now" across a request.
type Entry struct {
	BuyerID               int64
	DatasetID             int64
	ShareID               int64
	QueryTime             time.Time
	ColumnsRequested      []string
	ColumnsReturned       []string
	RowCountReturned      int
	EffectiveLimit        int
	RequestedPredicates   any
	AppliedPredicates     []predicate.Node
	AnchorColumnsUsed     []string
	ClientIP              string
}

// Writer appends query audit entries, logging (never failing) on error.
type Writer struct {
	store catalog.AuditStore
	log   *zap.Logger
}

// New builds a Writer. log may be nil, in which case a no-op logger is
// used.
func New(store catalog.AuditStore, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{store: store, log: log}
}

// Write appends entry to the catalog's audit log. Marshaling or storage
// failures are logged at warn and otherwise swallowed — the buyer's
// response has already been decided by the time this runs, and a broken
// audit trail must never turn a successful query into a failed one.
func (w *Writer) Write(ctx context.Context, e Entry) {
	requested, err := marshalPredicates(e.RequestedPredicates)
	if err != nil {
		w.log.Warn("audit: failed to marshal requested predicates", zap.Error(err))
	}
	applied, err := marshalAppliedPredicates(e.AppliedPredicates)
	if err != nil {
		w.log.Warn("audit: failed to marshal applied predicates", zap.Error(err))
	}

	record := &catalog.AuditLog{
		BuyerID:                e.BuyerID,
		DatasetID:              e.DatasetID,
		ShareID:                e.ShareID,
		QueryTime:              e.QueryTime,
		ColumnsRequested:       e.ColumnsRequested,
		ColumnsReturned:        e.ColumnsReturned,
		RowCountReturned:       e.RowCountReturned,
		EffectiveLimit:         e.EffectiveLimit,
		PredicatesRequested:    requested,
		PredicatesApplied:      applied,
		PredicatesAppliedCount: len(e.AppliedPredicates),
		AnchorColumnsUsed:      e.AnchorColumnsUsed,
		ClientIP:               e.ClientIP,
	}

	if err := w.store.Append(ctx, record); err != nil {
		w.log.Warn("audit: failed to append query log",
			zap.Int64("share_id", e.ShareID), zap.Error(err))
	}
}

func marshalPredicates(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type appliedPredicate struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value,omitempty"`
	Values []any  `json:"values,omitempty"`
}

func marshalAppliedPredicates(nodes []predicate.Node) (string, error) {
	if len(nodes) == 0 {
		return "", nil
	}
	out := make([]appliedPredicate, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, appliedPredicate{Column: n.Column, Op: string(n.Op), Value: n.Value, Values: n.Values})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
