package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/septivank/energy-sync-worker/internal/config"
	"github.com/septivank/energy-sync-worker/internal/mq"
)

var triggerFirst bool

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Request a sync from running workers",
	Long:  `Publishes a sync request on the RabbitMQ exchange. A running worker consumes it from SYNC_TRIGGER_QUEUE.`,
	RunE:  runTrigger,
}

func init() {
	triggerCmd.Flags().BoolVar(&triggerFirst, "first", false, "Request a first-run window")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.RabbitMQ.Enabled() {
		return fmt.Errorf("RABBITMQ_URL is required to send a sync trigger")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	conn, err := mq.Dial(logger, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	pub, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := mq.TriggerMessage{FirstRun: triggerFirst, RequestedAt: time.Now().UTC()}
	if err := pub.PublishTrigger(ctx, msg, cfg.RabbitMQ.TriggerKey); err != nil {
		return fmt.Errorf("publishing trigger: %w", err)
	}

	fmt.Printf("Sync requested (first run: %v) on %s/%s\n", triggerFirst, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.TriggerKey)
	return nil
}
