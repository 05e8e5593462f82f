// Package queue parks fulfillment orders the print partner did not accept on
// a RabbitMQ dead-letter queue so an operator can replay them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/config"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

const (
	FailureQueueName    = "fulfillment_failures"
	FailureExchangeName = "stickerforge_dlq"

	// ParkedQueueName holds orders that kept failing replay; they need a human
	ParkedQueueName = "fulfillment_failures_parked"

	DefaultMaxReplayAttempts = 5
)

// FailurePublisher records an order that needs operator attention
type FailurePublisher interface {
	PublishFulfillmentFailure(ctx context.Context, failure *models.FulfillmentFailure) error
}

// channel is the subset of *amqp.Channel the queue uses after declaration
type channel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueInspect(name string) (amqp.Queue, error)
	Close() error
}

// Queue provides dead-letter queue operations
type Queue struct {
	conn        *amqp.Connection
	channel     channel
	mu          sync.Mutex
	maxAttempts int
	logger      *logging.Logger
}

// New connects to RabbitMQ and declares the failure exchange and queue
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := newQueue(ch, cfg.MaxReplayAttempts, logger)
	q.conn = conn
	if err := declare(ch); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func newQueue(ch channel, maxAttempts int, logger *logging.Logger) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReplayAttempts
	}
	return &Queue{channel: ch, maxAttempts: maxAttempts, logger: logger}
}

func declare(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		FailureExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	for _, name := range []string{FailureQueueName, ParkedQueueName} {
		_, err = ch.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		if err := ch.QueueBind(name, name, FailureExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishFulfillmentFailure publishes a rejected order to the dead-letter queue
func (q *Queue) PublishFulfillmentFailure(ctx context.Context, failure *models.FulfillmentFailure) error {
	if err := q.publish(ctx, FailureQueueName, failure); err != nil {
		return err
	}

	q.logger.WithFields(map[string]interface{}{
		"idempotency_key": failure.IdempotencyKey,
		"code":            failure.Code,
	}).Warn("fulfillment failure moved to dead letter queue")
	return nil
}

func (q *Queue) publish(ctx context.Context, queueName string, failure *models.FulfillmentFailure) error {
	publishing, err := encodeFailure(failure)
	if err != nil {
		return err
	}

	q.mu.Lock()
	err = q.channel.PublishWithContext(ctx,
		FailureExchangeName,
		queueName,
		false, // mandatory
		false, // immediate
		publishing,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}
	return nil
}

// Replay hands up to max parked failures to handler, never more than were
// queued when it started. Successes are acked. A failure is republished to the
// tail with its attempt count raised, or to the parked queue once it reaches
// the attempt limit, so one bad order never blocks the ones behind it. The
// returned error joins every handler error of the run.
func (q *Queue) Replay(ctx context.Context, max int, handler func(context.Context, *models.FulfillmentFailure) error) (int, error) {
	depth, err := q.Depth()
	if err != nil {
		return 0, err
	}
	if depth < max {
		max = depth
	}

	replayed := 0
	var errs []error
	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			return replayed, errors.Join(append(errs, err)...)
		}

		q.mu.Lock()
		msg, ok, err := q.channel.Get(FailureQueueName, false)
		q.mu.Unlock()
		if err != nil {
			return replayed, errors.Join(append(errs, fmt.Errorf("failed to get from DLQ: %w", err))...)
		}
		if !ok {
			break
		}

		failure, err := decodeFailure(msg.Body)
		if err != nil {
			// Unreadable messages can never be replayed
			msg.Nack(false, false)
			q.logger.WithError(err).Error("dropping malformed DLQ message")
			continue
		}

		handlerErr := handler(ctx, failure)
		if handlerErr == nil {
			msg.Ack(false)
			replayed++
			continue
		}
		errs = append(errs, handlerErr)

		if err := q.requeue(ctx, failure, handlerErr); err != nil {
			// Leave it where it was rather than lose it
			msg.Nack(false, true)
			return replayed, errors.Join(append(errs, err)...)
		}
		msg.Ack(false)
	}

	return replayed, errors.Join(errs...)
}

func (q *Queue) requeue(ctx context.Context, failure *models.FulfillmentFailure, cause error) error {
	failure.Attempts++
	failure.Code = apperr.CodeOf(cause)
	failure.Reason = cause.Error()
	failure.FailedAt = time.Now().UTC()

	target := FailureQueueName
	if failure.Attempts >= q.maxAttempts {
		target = ParkedQueueName
	}

	if err := q.publish(ctx, target, failure); err != nil {
		return err
	}

	log := q.logger.WithFields(map[string]interface{}{
		"idempotency_key": failure.IdempotencyKey,
		"attempts":        failure.Attempts,
		"code":            failure.Code,
	})
	if target == ParkedQueueName {
		log.Error("fulfillment replay exhausted, order parked for manual handling")
	} else {
		log.Warn("fulfillment replay failed, order moved to the back of the queue")
	}
	return nil
}

// Depth returns the number of parked failures
func (q *Queue) Depth() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, err := q.channel.QueueInspect(FailureQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

func encodeFailure(failure *models.FulfillmentFailure) (amqp.Publishing, error) {
	if failure.FailedAt.IsZero() {
		failure.FailedAt = time.Now().UTC()
	}

	body, err := json.Marshal(failure)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal failure: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    failure.IdempotencyKey,
		Body:         body,
		Timestamp:    failure.FailedAt,
		Headers: amqp.Table{
			"x-failure-reason":  failure.Reason,
			"x-failure-code":    failure.Code,
			"x-failed-at":       failure.FailedAt.Format(time.RFC3339),
			"x-replay-attempts": int32(failure.Attempts),
		},
	}, nil
}

func decodeFailure(body []byte) (*models.FulfillmentFailure, error) {
	var failure models.FulfillmentFailure
	if err := json.Unmarshal(body, &failure); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure: %w", err)
	}
	return &failure, nil
}

// LogPublisher is the FailurePublisher used when no broker is configured
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a log-only failure publisher
func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// PublishFulfillmentFailure logs the failure with enough detail to resubmit by hand
func (p *LogPublisher) PublishFulfillmentFailure(ctx context.Context, failure *models.FulfillmentFailure) error {
	p.logger.WithFields(map[string]interface{}{
		"idempotency_key": failure.IdempotencyKey,
		"artwork_url":     failure.ArtworkURL,
		"buyer_email":     failure.BuyerEmail,
		"country":         failure.Address.Country,
		"code":            failure.Code,
		"reason":          failure.Reason,
	}).Error("fulfillment failed, no dead letter queue configured")
	return nil
}
