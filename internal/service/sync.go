package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/septivank/energy-sync-worker/internal/credentials"
	"github.com/septivank/energy-sync-worker/internal/electricity"
	"github.com/septivank/energy-sync-worker/internal/logging"
	"github.com/septivank/energy-sync-worker/internal/metrics"
	"github.com/septivank/energy-sync-worker/internal/mq"
	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/internal/validator"
	"github.com/septivank/energy-sync-worker/internal/window"
)

var (
	// ErrRunInProgress is returned when a run is requested while another one is in flight
	ErrRunInProgress = errors.New("sync run already in progress")

	// ErrSinkWrite wraps a failure of the final batch write
	ErrSinkWrite = errors.New("failed to write points to storage")
)

// ElectricityFetcher fetches one electricity account
type ElectricityFetcher interface {
	Fetch(ctx context.Context, account credentials.ElectricityAccount, w window.Window) (electricity.Result, error)
}

// GasFetcher fetches one gas account
type GasFetcher interface {
	Fetch(ctx context.Context, account credentials.GasAccount, w window.Window) ([]series.Point, error)
}

// EventPublisher publishes run reports
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, event mq.RunCompletedEvent) error
}

// AccountOutcome is the result of one account in a run
type AccountOutcome struct {
	Provider string
	MeterID  string
	Points   int
	Skipped  []electricity.SkippedWindow
	Err      error
}

// Report summarizes a run
type Report struct {
	RunID          string
	FirstRun       bool
	Window         window.Window
	StartedAt      time.Time
	FinishedAt     time.Time
	Accounts       []AccountOutcome
	PointsWritten  int
	PointsRejected int
	WriteErr       error
}

// FailedAccounts returns the outcomes that ended in an error
func (r *Report) FailedAccounts() []AccountOutcome {
	var failed []AccountOutcome
	for _, a := range r.Accounts {
		if a.Err != nil {
			failed = append(failed, a)
		}
	}
	return failed
}

// Event converts the report to its published form
func (r *Report) Event() mq.RunCompletedEvent {
	event := mq.RunCompletedEvent{
		RunID:          r.RunID,
		FirstRun:       r.FirstRun,
		WindowStart:    window.FormatDate(r.Window.Start),
		WindowEnd:      window.FormatDate(r.Window.End),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		PointsWritten:  r.PointsWritten,
		PointsRejected: r.PointsRejected,
		Accounts:       make([]mq.AccountOutcome, 0, len(r.Accounts)),
	}
	for _, a := range r.Accounts {
		outcome := mq.AccountOutcome{Provider: a.Provider, MeterID: a.MeterID, Points: a.Points}
		for _, s := range a.Skipped {
			outcome.SkippedWindows = append(outcome.SkippedWindows, s.Window.String())
		}
		if a.Err != nil {
			outcome.Error = a.Err.Error()
		}
		event.Accounts = append(event.Accounts, outcome)
	}
	if r.WriteErr != nil {
		event.WriteError = r.WriteErr.Error()
	}
	return event
}

// Deps are the collaborators of a SyncService. Publisher and Metrics are optional.
type Deps struct {
	Store       credentials.Store
	Resolver    *window.Resolver
	Electricity ElectricityFetcher
	Gas         GasFetcher
	Validator   *validator.Validator
	Sink        Sink
	Publisher   EventPublisher
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// SyncService runs the synchronization: resolve the window, fetch every
// account, validate and write all points in one batch.
type SyncService struct {
	store       credentials.Store
	resolver    *window.Resolver
	electricity ElectricityFetcher
	gas         GasFetcher
	validator   *validator.Validator
	sink        Sink
	publisher   EventPublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
	running     *semaphore.Weighted
}

// NewSyncService creates a sync service
func NewSyncService(d Deps) *SyncService {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &SyncService{
		store:       d.Store,
		resolver:    d.Resolver,
		electricity: d.Electricity,
		gas:         d.Gas,
		validator:   d.Validator,
		sink:        d.Sink,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         now,
		running:     semaphore.NewWeighted(1),
	}
}

// Run performs one synchronization. Account failures are recorded in the
// report; only a failed storage write (or a concurrent run) returns an error.
func (s *SyncService) Run(ctx context.Context, firstRun bool) (*Report, error) {
	if !s.running.TryAcquire(1) {
		s.metrics.RecordRun(metrics.ResultBusy, 0, s.now())
		return nil, ErrRunInProgress
	}
	defer s.running.Release(1)

	report := &Report{
		RunID:     uuid.New().String(),
		FirstRun:  firstRun,
		StartedAt: s.now().UTC(),
	}
	report.Window = s.resolver.Resolve(report.StartedAt, firstRun)

	runLogger := logging.WithRunID(s.logger, report.RunID)
	runLogger.Info("sync run started",
		zap.Bool("first_run", firstRun),
		zap.String("window", report.Window.String()),
	)

	set, err := s.store.Load(ctx)
	if err != nil {
		runLogger.Error("failed to load credentials", zap.Error(err))
		report.FinishedAt = s.now().UTC()
		s.metrics.RecordRun(metrics.ResultError, report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
		return report, fmt.Errorf("failed to load credentials: %w", err)
	}

	var points []series.Point

	for _, account := range set.Electricity {
		accLogger := logging.WithMeter(runLogger, credentials.ProviderElectricity, account.MeterID)
		result, err := s.electricity.Fetch(ctx, account, report.Window)
		outcome := AccountOutcome{
			Provider: credentials.ProviderElectricity,
			MeterID:  account.MeterID,
			Points:   len(result.Points),
			Skipped:  result.Skipped,
			Err:      err,
		}
		report.Accounts = append(report.Accounts, outcome)
		s.metrics.RecordAccount(credentials.ProviderElectricity, err)
		s.metrics.RecordSkippedWindows(len(result.Skipped))

		if err != nil {
			accLogger.Error("failed to fetch electricity data", zap.Error(err))
			continue
		}
		accLogger.Info("electricity data fetched",
			zap.Int("points", outcome.Points),
			zap.Int("skipped_windows", len(outcome.Skipped)),
		)
		points = append(points, result.Points...)
	}

	for _, account := range set.Gas {
		accLogger := logging.WithMeter(runLogger, credentials.ProviderGas, account.MeterID)
		gasPoints, err := s.gas.Fetch(ctx, account, report.Window)
		report.Accounts = append(report.Accounts, AccountOutcome{
			Provider: credentials.ProviderGas,
			MeterID:  account.MeterID,
			Points:   len(gasPoints),
			Err:      err,
		})
		s.metrics.RecordAccount(credentials.ProviderGas, err)

		if err != nil {
			accLogger.Error("failed to fetch gas data", zap.Error(err))
			continue
		}
		accLogger.Info("gas data fetched", zap.Int("points", len(gasPoints)))
		points = append(points, gasPoints...)
	}

	valid, rejected := s.validator.Partition(points)
	for _, r := range rejected {
		runLogger.Warn("point rejected by validation",
			zap.String("measurement", r.Point.Measurement),
			zap.String("meter_id", r.Point.MeterID()),
			zap.Time("time", r.Point.Time),
			zap.String("reason", r.Reason),
		)
	}
	report.PointsRejected = len(rejected)
	s.metrics.RecordRejected(len(rejected))

	writeErr := s.sink.WriteBatch(ctx, valid)
	report.FinishedAt = s.now().UTC()
	duration := report.FinishedAt.Sub(report.StartedAt)

	if writeErr != nil {
		report.WriteErr = writeErr
		runLogger.Error("failed to write points", zap.Int("points", len(valid)), zap.Error(writeErr))
		s.metrics.RecordRun(metrics.ResultError, duration, report.FinishedAt)
		s.publish(ctx, runLogger, report)
		return report, fmt.Errorf("%w: %w", ErrSinkWrite, writeErr)
	}

	report.PointsWritten = len(valid)
	s.metrics.RecordWritten(valid)
	s.metrics.RecordRun(metrics.ResultSuccess, duration, report.FinishedAt)

	runLogger.Info("sync run completed",
		zap.Int("points_written", report.PointsWritten),
		zap.Int("points_rejected", report.PointsRejected),
		zap.Int("accounts", len(report.Accounts)),
		zap.Int("failed_accounts", len(report.FailedAccounts())),
		zap.Duration("duration", duration),
	)

	s.publish(ctx, runLogger, report)
	return report, nil
}

func (s *SyncService) publish(ctx context.Context, logger *zap.Logger, report *Report) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRunCompleted(ctx, report.Event()); err != nil {
		// Log error but don't fail the run
		logger.Error("failed to publish run report", zap.Error(err))
	}
}

// HandleTrigger runs a sync for an AMQP trigger message. A trigger arriving
// during a run is dropped; a failed write is returned so the message is
// dead-lettered.
func (s *SyncService) HandleTrigger(ctx context.Context, body []byte) error {
	var msg mq.TriggerMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
	}

	_, err := s.Run(ctx, msg.FirstRun)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("sync trigger dropped, run already in progress", zap.Bool("first_run", msg.FirstRun))
		return nil
	}
	return err
}
