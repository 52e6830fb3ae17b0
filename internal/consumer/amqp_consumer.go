package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/giobyte8/resizer/internal/models"
	"github.com/giobyte8/resizer/internal/telemetry"
	"github.com/giobyte8/resizer/internal/telemetry/metrics"
)

// Holds the config params for the consumer
type AMQPConfig struct {
	AMQPUri  string
	Exchange string

	ResizeRequestQueue string
}

// RequestProcessor runs one decoded resize request to completion.
type RequestProcessor interface {
	ProcessRequest(
		ctx context.Context,
		req models.ResizeRequest,
	) (*models.BatchReport, error)
}

type AMQPConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	config    AMQPConfig
	processor RequestProcessor
	telemetry *telemetry.TelemetrySvc
}

// Creates a new AMQPConsumer instance ready to connect to broker
func NewAMQPConsumer(
	config AMQPConfig,
	processor RequestProcessor,
	telemetry *telemetry.TelemetrySvc,
) (*AMQPConsumer, error) {

	if config.AMQPUri == "" {
		return nil, fmt.Errorf("AMQP URI cannot be empty in config")
	}
	if config.Exchange == "" {
		return nil, fmt.Errorf("AMQP exchange cannot be empty in config")
	}
	if config.ResizeRequestQueue == "" {
		return nil, fmt.Errorf(
			"AMQP resize requests queue name cannot be empty in config",
		)
	}
	if processor == nil {
		return nil, fmt.Errorf("AMQP consumer needs a request processor")
	}

	return &AMQPConsumer{
		config:    config,
		processor: processor,
		telemetry: telemetry,
	}, nil
}

// Connects to AMQP broker, declares exchange and queue and
// starts consuming messages
func (c *AMQPConsumer) Start(ctx context.Context) error {
	slog.Debug("AMQP - Initializing AMQP Consumer")

	var err error
	c.conn, err = amqp.Dial(c.config.AMQPUri)
	if err != nil {
		return fmt.Errorf("AMQP - Connection to broker failed: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("AMQP - Failed to open channel: %w", err)
	}

	if err := c.declareTopology(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	// One batch at a time; the batch itself fans out
	if err := c.channel.Qos(1, 0, false); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("AMQP - Failed to set prefetch: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.config.ResizeRequestQueue,
		"resizer", // Consumer tag
		false,     // Auto-acknowledge
		false,     // Exclusive
		false,     // No-local
		false,     // No-wait
		nil,       // Arguments
	)
	if err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("AMQP - Failed to create resize queue consumer: %w", err)
	}

	go c.consume(ctx, msgs)
	return nil
}

func (c *AMQPConsumer) declareTopology() error {
	err := c.channel.ExchangeDeclare(
		c.config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("AMQP - Failed to declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.config.ResizeRequestQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("AMQP - Failed to declare resize queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.config.ResizeRequestQueue, // Queue
		c.config.ResizeRequestQueue, // Routing key
		c.config.Exchange,           // Exchange
		false,                       // No-wait
		nil,                         // Arguments
	)
	if err != nil {
		return fmt.Errorf("AMQP - Failed to bind resize queue: %w", err)
	}
	return nil
}

// Gracefully stops the AMQP consumer
func (c *AMQPConsumer) Stop() {
	slog.Info("AMQP - Stopping AMQP Consumer...")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			slog.Error("AMQP - Failed to close channel", "error", err)
		} else {
			slog.Debug("AMQP - Channel closed")
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Error("AMQP - Failed to close connection", "error", err)
		} else {
			slog.Debug("AMQP - Connection closed")
		}
	}

	slog.Info("AMQP - AMQP Consumer stopped")
}

func (c *AMQPConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				slog.Info(
					"AMQP - Resize message channel closed. goroutine exiting",
				)
				return
			}

			if err := c.handleMessage(ctx, msg.Body); err != nil {
				if nackErr := msg.Nack(false, false); nackErr != nil {
					slog.Error(
						"AMQP - Failed to nack resize message",
						"error",
						nackErr,
					)
				}
				continue
			}

			if err := msg.Ack(false); err != nil {
				slog.Error(
					"AMQP - Failed to acknowledge resize message",
					"error",
					err,
				)
			}

		case <-ctx.Done():
			slog.Info(
				"AMQP - Context done signal received, " +
					"stopping resize consumption goroutine...",
			)
			return
		}
	}
}

// handleMessage decodes and runs one delivery. A non-nil error means the
// message must be dropped (nacked without requeue).
func (c *AMQPConsumer) handleMessage(ctx context.Context, body []byte) error {
	var req models.ResizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.Error(
			"AMQP - Failed to unmarshal resize message",
			"error",
			err,
			"message",
			string(body),
		)
		return fmt.Errorf("malformed resize request: %w", err)
	}

	if req.RequestID == uuid.Nil {
		req.RequestID = uuid.New()
	}

	c.telemetry.Metrics().Increment(metrics.ResizeRequestReceived, nil)

	report, err := c.processor.ProcessRequest(ctx, req)
	if err != nil {
		slog.Error(
			"AMQP - Failed to process resize request",
			"error",
			err,
			"requestId",
			req.RequestID,
			"src",
			req.SourcePath,
		)
		return err
	}

	slog.Info(
		"AMQP - Resize request completed",
		"requestId", req.RequestID,
		"runId", report.RunID,
		"resized", report.Succeeded(),
	)
	return nil
}
