package queue

import (
	"context"
	"errors"

	"github.com/insightlab/causal/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// ErrInvalidMessage marks messages that can never succeed. They skip the
// retry queue and go straight to the dead-letter queue.
var ErrInvalidMessage = errors.New("invalid queue message")

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError routes a failed delivery to <queue>_retry, or to
// <queue>_dlq once it was retried maxRetries times or the failure is
// permanent. If publishing fails the delivery is requeued.
func HandleProcessingError(
	ctx context.Context,
	ch publisher,
	ack acknowledger,
	msg amqp091.Delivery,
	queueName string,
	cause error,
) {
	retries := retryCount(msg.Headers)

	if retries >= maxRetries || errors.Is(cause, ErrInvalidMessage) {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		err := ch.PublishWithContext(ctx, "", dlqName, false, false, amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     msg.Headers,
		})
		settle(ack, err, dlqName)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	err := ch.PublishWithContext(ctx, "", retryName, false, false, amqp091.Publishing{
		ContentType: msg.ContentType,
		Body:        msg.Body,
		Headers:     headers,
	})
	settle(ack, err, retryName)
}

func settle(ack acknowledger, publishErr error, target string) {
	if publishErr != nil {
		logger.Error("[Queue] Failed to publish message", "queue", target, "err", publishErr)
		if err := ack.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
