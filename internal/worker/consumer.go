package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// setupConsumer configures QoS and starts consuming from the given queue
func (w *Worker) setupConsumer(queue, tagSuffix string) (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// prefetch limits unacknowledged messages per consumer so one worker
	// cannot hoard a backlog it is not processing yet
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	consumerTag := fmt.Sprintf("%s-%s", w.workerID, tagSuffix)
	deliveries, err := w.rabbitClient.Consume(queue, consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from %s: %w", queue, err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("queue", queue),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg struct {
				JobID string `json:"job_id"`
			}

			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Error("Failed to parse message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages are dropped, redelivery cannot fix them
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				w.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK message with invalid job_id",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			jobMsg := &domain.JobMessage{
				JobID:       msg.JobID,
				DeliveryTag: delivery.DeliveryTag,
			}

			select {
			case w.jobsChan <- jobMsg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// NACK so another worker picks the job up
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
