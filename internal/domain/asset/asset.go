// Package asset deletes remotely hosted images on a best-effort basis.
package asset

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome strings reported by the asset host.
const (
	ResultOK       = "ok"
	ResultNotFound = "not found"
)

// Destroyer deletes one asset (invalidating cached copies) and returns the
// host's outcome string.
type Destroyer interface {
	Destroy(ctx context.Context, publicID string) (string, error)
}

// Failure records an asset that could not be deleted.
type Failure struct {
	PublicID string `json:"publicId"`
	Outcome  string `json:"outcome,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Outcome collects per-asset results of one DeleteAll call.
type Outcome struct {
	Deleted  []string  `json:"deleted"`
	NotFound []string  `json:"notFound"`
	Errors   []Failure `json:"errors"`
}

func newOutcome() *Outcome {
	return &Outcome{Deleted: []string{}, NotFound: []string{}, Errors: []Failure{}}
}

// Manager fans asset deletions out to a Destroyer with bounded concurrency.
type Manager struct {
	destroyer   Destroyer
	concurrency int
	deletions   metric.Int64Counter
}

// NewManager creates a Manager. A nil destroyer means the asset host is not
// configured: DeleteAll then skips all work and returns nil. concurrency
// below 1 is treated as 1, which deletes strictly one asset at a time.
func NewManager(destroyer Destroyer, concurrency int, meter metric.Meter) (*Manager, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	m := &Manager{destroyer: destroyer, concurrency: concurrency}
	if meter != nil {
		c, err := meter.Int64Counter("laptop.asset.deletions",
			metric.WithDescription("Asset deletions by outcome"),
		)
		if err != nil {
			return nil, err
		}
		m.deletions = c
	}
	return m, nil
}

// Enabled reports whether asset host credentials were configured.
func (m *Manager) Enabled() bool {
	return m != nil && m.destroyer != nil
}

// DeleteAll deletes every id and classifies each result as deleted, not
// found or errored. A failing id never stops the others. Results keep the
// input order within each list. It returns nil when the manager is disabled.
func (m *Manager) DeleteAll(ctx context.Context, ids []string) *Outcome {
	if !m.Enabled() {
		if len(ids) > 0 {
			zctx.From(ctx).Info("Skipping asset removal: credentials not configured",
				zap.Int("count", len(ids)),
			)
		}
		return nil
	}

	type result struct {
		outcome string
		err     error
	}
	results := make([]result, len(ids))

	// Errors are collected per id, so the group never cancels.
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcome, err := m.destroyer.Destroy(ctx, id)
			results[i] = result{outcome: outcome, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := newOutcome()
	lg := zctx.From(ctx)
	for i, id := range ids {
		r := results[i]
		switch {
		case r.err != nil:
			lg.Warn("Asset removal failed", zap.String("public_id", id), zap.Error(r.err))
			out.Errors = append(out.Errors, Failure{PublicID: id, Message: r.err.Error()})
			m.record(ctx, "error")
		case r.outcome == ResultOK:
			out.Deleted = append(out.Deleted, id)
			m.record(ctx, "deleted")
		case r.outcome == ResultNotFound:
			out.NotFound = append(out.NotFound, id)
			m.record(ctx, "not_found")
		default:
			lg.Warn("Asset removal returned unexpected outcome",
				zap.String("public_id", id), zap.String("outcome", r.outcome),
			)
			out.Errors = append(out.Errors, Failure{PublicID: id, Outcome: r.outcome})
			m.record(ctx, "error")
		}
	}
	return out
}

func (m *Manager) record(ctx context.Context, outcome string) {
	if m.deletions == nil {
		return
	}
	m.deletions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
