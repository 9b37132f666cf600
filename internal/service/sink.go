package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/series"
)

// Sink stores a batch of points. WriteBatch returns once the batch is durable
// or has failed.
type Sink interface {
	WriteBatch(ctx context.Context, points []series.Point) error
}

// MultiSink writes to a primary sink and then to best-effort mirrors. Only a
// primary failure is returned.
type MultiSink struct {
	primary Sink
	mirrors []Sink
	logger  *zap.Logger
}

// NewMultiSink creates a sink fanning out to mirrors after primary
func NewMultiSink(logger *zap.Logger, primary Sink, mirrors ...Sink) *MultiSink {
	return &MultiSink{primary: primary, mirrors: mirrors, logger: logger}
}

// WriteBatch writes points to the primary sink, then to each mirror
func (m *MultiSink) WriteBatch(ctx context.Context, points []series.Point) error {
	if err := m.primary.WriteBatch(ctx, points); err != nil {
		return err
	}
	for i, mirror := range m.mirrors {
		if err := mirror.WriteBatch(ctx, points); err != nil {
			m.logger.Warn("mirror write failed",
				zap.Int("mirror", i),
				zap.Int("points", len(points)),
				zap.Error(err),
			)
		}
	}
	return nil
}
