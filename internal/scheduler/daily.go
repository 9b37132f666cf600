// Package scheduler triggers the recurring sync.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RunFunc is the scheduled job
type RunFunc func(ctx context.Context) error

// Daily fires a job once a day at a wall-clock time in a location
type Daily struct {
	hour     int
	minute   int
	location *time.Location
	run      RunFunc
	logger   *zap.Logger
	interval time.Duration

	lastRun string
}

// NewDaily creates a scheduler firing at dailyAt (HH:MM) in loc
func NewDaily(dailyAt string, loc *time.Location, run RunFunc, logger *zap.Logger) (*Daily, error) {
	hour, minute, err := parseDailyAt(dailyAt)
	if err != nil {
		return nil, fmt.Errorf("invalid daily time %q: %w", dailyAt, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{
		hour:     hour,
		minute:   minute,
		location: loc,
		run:      run,
		logger:   logger,
		interval: time.Minute,
	}, nil
}

// Start runs the scheduler loop until ctx is cancelled
func (s *Daily) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("daily scheduler started",
		zap.String("at", fmt.Sprintf("%02d:%02d", s.hour, s.minute)),
		zap.String("location", s.location.String()),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("daily scheduler stopped")
			return
		case now := <-ticker.C:
			if !s.shouldRun(now) {
				continue
			}
			s.runOnce(ctx, now)
		}
	}
}

// shouldRun reports whether now is the scheduled minute of a day not yet run
func (s *Daily) shouldRun(now time.Time) bool {
	local := now.In(s.location)
	if local.Hour() != s.hour || local.Minute() != s.minute {
		return false
	}
	return local.Format("2006-01-02") != s.lastRun
}

func (s *Daily) runOnce(ctx context.Context, now time.Time) {
	s.lastRun = now.In(s.location).Format("2006-01-02")
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}

// RegisterLifecycle runs the scheduler between application start and stop
func (s *Daily) RegisterLifecycle(lc fx.Lifecycle) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Start(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
