package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn       *Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher. routingKey is used for run reports.
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// AccountOutcome is the per-account part of a run report
type AccountOutcome struct {
	Provider       string   `json:"provider"`
	MeterID        string   `json:"meter_id"`
	Points         int      `json:"points"`
	SkippedWindows []string `json:"skipped_windows,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// RunCompletedEvent is published after every sync run
type RunCompletedEvent struct {
	RunID          string           `json:"run_id"`
	FirstRun       bool             `json:"first_run"`
	WindowStart    string           `json:"window_start"`
	WindowEnd      string           `json:"window_end"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	PointsWritten  int              `json:"points_written"`
	PointsRejected int              `json:"points_rejected"`
	Accounts       []AccountOutcome `json:"accounts"`
	WriteError     string           `json:"write_error,omitempty"`
}

// TriggerMessage requests a sync run
type TriggerMessage struct {
	FirstRun    bool      `json:"first_run"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// PublishRunCompleted publishes a run report
func (p *Publisher) PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	if err := p.publishJSON(ctx, p.routingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published run completed event",
		zap.String("routing_key", p.routingKey),
		zap.String("run_id", event.RunID),
		zap.Int("points_written", event.PointsWritten),
	)
	return nil
}

// PublishTrigger publishes a sync request on routingKey
func (p *Publisher) PublishTrigger(ctx context.Context, msg TriggerMessage, routingKey string) error {
	if err := p.publishJSON(ctx, routingKey, msg); err != nil {
		return err
	}

	p.logger.Info("published sync trigger",
		zap.String("routing_key", routingKey),
		zap.Bool("first_run", msg.FirstRun),
	)
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
