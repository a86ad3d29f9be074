package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ImportQueue       = "graph_import_queue"
	PubSubExchange    = "pubsub_exchange"
	TopicGraphUpdated = "causal.graph.updated"

	retryTTL   = int32(10000)
	maxRetries = 10
)

// Queues lists the work queues the worker consumes.
var Queues = []string{ImportQueue}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func connURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnvString("RABBITMQ_USER", "guest"),
		util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

// Init dials RabbitMQ, retrying while the broker starts up.
func Init(ctx context.Context) (*amqp091.Connection, error) {
	url := connURL()
	conn, err := util.RetryWithContext(ctx, 5, util.Backoff{Initial: time.Second, Max: 8 * time.Second},
		func(context.Context) (*amqp091.Connection, error) {
			conn, err := amqp091.Dial(url)
			if err != nil {
				logger.Warn("[Queue] RabbitMQ not reachable yet", "err", err)
			}
			return conn, err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each work queue together with its _retry queue,
// which dead-letters back into the work queue after a delay, and its _dlq.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	if err := declareExchange(ch); err != nil {
		return err
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryName, err)
		}
	}

	return nil
}

func declareExchange(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		PubSubExchange,
		"topic",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", PubSubExchange, err)
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch publisher, queueName string, data []byte) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func PublishTopic(ctx context.Context, ch publisher, topic string, data []byte) error {
	return ch.PublishWithContext(ctx, PubSubExchange, topic, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        data,
		Timestamp:   time.Now(),
	})
}

// SubscribeTopic binds a server-private queue to topic. The queue is removed
// by the broker when the channel closes.
func SubscribeTopic(ch *amqp091.Channel, topic string) (<-chan amqp091.Delivery, error) {
	if err := declareExchange(ch); err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, PubSubExchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind %s to %s: %w", q.Name, topic, err)
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}
	return msgs, nil
}
