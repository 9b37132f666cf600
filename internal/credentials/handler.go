package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrHandlerNotRunning is returned when an update is published before Start or after Stop
var ErrHandlerNotRunning = errors.New("credential refresh handler is not running")

type updateRequest struct {
	event CredentialUpdated
	done  chan error
}

// Handler applies CredentialUpdated events. A single goroutine owns every
// write to the store, so sessions may publish from any goroutine.
type Handler struct {
	store   Store
	logger  *zap.Logger
	observe func(error)

	events  chan updateRequest
	running atomic.Bool
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewHandler creates a handler writing to store
func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		logger:  logger,
		events:  make(chan updateRequest),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// WithObserver registers fn to be told the outcome of every token rotation OnRefresh persists
func (h *Handler) WithObserver(fn func(error)) *Handler {
	h.observe = fn
	return h
}

// Start launches the writer goroutine
func (h *Handler) Start(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	go h.loop(ctx)
}

// Stop terminates the writer goroutine and waits for it to exit
func (h *Handler) Stop() {
	h.once.Do(func() {
		close(h.quit)
	})
	if h.running.Load() {
		<-h.stopped
	}
}

func (h *Handler) loop(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-h.quit:
			return
		case <-ctx.Done():
			return
		case req := <-h.events:
			req.done <- h.apply(ctx, req.event)
		}
	}
}

// Publish hands the event to the writer and waits until it is applied
func (h *Handler) Publish(ctx context.Context, event CredentialUpdated) error {
	if !h.running.Load() {
		return ErrHandlerNotRunning
	}

	req := updateRequest{event: event, done: make(chan error, 1)}
	select {
	case h.events <- req:
	case <-h.stopped:
		return ErrHandlerNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRefresh is the electricity session callback. Failures are logged and the
// previously stored credentials stay in effect.
func (h *Handler) OnRefresh(meterID, accessToken, refreshToken string) {
	event := CredentialUpdated{
		Provider:     ProviderElectricity,
		MeterID:      meterID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	err := h.Publish(context.Background(), event)
	if h.observe != nil && event.Rotated() {
		h.observe(err)
	}
	if err != nil {
		h.logger.Error("failed to persist refreshed credentials",
			zap.String("meter_id", meterID),
			zap.Bool("persistence_error", IsPersistenceError(err)),
			zap.Error(err),
		)
	}
}

func (h *Handler) apply(ctx context.Context, event CredentialUpdated) error {
	logger := h.logger.With(zap.String("provider", event.Provider), zap.String("meter_id", event.MeterID))

	if !event.Rotated() {
		logger.Debug("token refresh without new tokens, keeping stored credentials")
		return nil
	}
	if event.Provider != ProviderElectricity {
		logger.Warn("ignoring credential update for provider without token rotation")
		return nil
	}

	current, err := h.store.Load(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	updated, ok := current.WithElectricityTokens(event.MeterID, event.AccessToken, event.RefreshToken)
	if !ok {
		logger.Warn("token refresh for unknown meter, nothing persisted")
		return nil
	}

	if err := h.store.Save(ctx, updated); err != nil {
		return err
	}

	logger.Info("refreshed credentials persisted")
	return nil
}
