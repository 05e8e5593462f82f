package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// memoryChannel keeps named queues in memory and acknowledges deliveries itself
type memoryChannel struct {
	mu       sync.Mutex
	queues   map[string][][]byte
	inFlight map[uint64][]byte
	nextTag  uint64
	acked    int
	dropped  int
}

func newMemoryChannel() *memoryChannel {
	return &memoryChannel{
		queues:   make(map[string][][]byte),
		inFlight: make(map[uint64][]byte),
	}
}

func (c *memoryChannel) push(t *testing.T, failure *models.FulfillmentFailure) {
	t.Helper()
	body, err := json.Marshal(failure)
	require.NoError(t, err)
	c.queues[FailureQueueName] = append(c.queues[FailureQueueName], body)
}

func (c *memoryChannel) keys(t *testing.T, name string) []string {
	t.Helper()
	var keys []string
	for _, body := range c.queues[name] {
		failure, err := decodeFailure(body)
		require.NoError(t, err)
		keys = append(keys, failure.IdempotencyKey)
	}
	return keys
}

func (c *memoryChannel) Get(name string, autoAck bool) (amqp.Delivery, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queues[name]) == 0 {
		return amqp.Delivery{}, false, nil
	}
	body := c.queues[name][0]
	c.queues[name] = c.queues[name][1:]
	c.nextTag++
	c.inFlight[c.nextTag] = body
	return amqp.Delivery{Acknowledger: c, DeliveryTag: c.nextTag, Body: body}, true, nil
}

func (c *memoryChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[key] = append(c.queues[key], msg.Body)
	return nil
}

func (c *memoryChannel) QueueInspect(name string) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return amqp.Queue{Name: name, Messages: len(c.queues[name])}, nil
}

func (c *memoryChannel) Close() error { return nil }

func (c *memoryChannel) Ack(tag uint64, multiple bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, tag)
	c.acked++
	return nil
}

func (c *memoryChannel) Nack(tag uint64, multiple, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	body := c.inFlight[tag]
	delete(c.inFlight, tag)
	if requeue {
		c.queues[FailureQueueName] = append([][]byte{body}, c.queues[FailureQueueName]...)
	} else {
		c.dropped++
	}
	return nil
}

func (c *memoryChannel) Reject(tag uint64, requeue bool) error {
	return c.Nack(tag, false, requeue)
}

func rejectKeys(keys ...string) func(context.Context, *models.FulfillmentFailure) error {
	return func(ctx context.Context, f *models.FulfillmentFailure) error {
		for _, k := range keys {
			if f.IdempotencyKey == k {
				return apperr.FulfillmentRejected(400, "bad address")
			}
		}
		return nil
	}
}

func TestReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected head does not block the orders behind it", func(t *testing.T) {
		ch := newMemoryChannel()
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_bad"})
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_a"})
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_b"})
		q := newQueue(ch, 3, logging.Nop())

		replayed, err := q.Replay(ctx, 10, rejectKeys("evt_bad"))
		require.Error(t, err)
		assert.Equal(t, apperr.CodeFulfillmentRejected, apperr.CodeOf(err))
		assert.Equal(t, 2, replayed)
		assert.Equal(t, []string{"evt_bad"}, ch.keys(t, FailureQueueName))
		assert.Empty(t, ch.inFlight)

		body := ch.queues[FailureQueueName][0]
		failure, err := decodeFailure(body)
		require.NoError(t, err)
		assert.Equal(t, 1, failure.Attempts)
		assert.Equal(t, apperr.CodeFulfillmentRejected, failure.Code)
		assert.Contains(t, failure.Reason, "status 400")
	})

	t.Run("rejected order goes behind the rest of the queue", func(t *testing.T) {
		ch := newMemoryChannel()
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_bad"})
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_a"})
		q := newQueue(ch, 3, logging.Nop())

		replayed, err := q.Replay(ctx, 1, rejectKeys("evt_bad"))
		require.Error(t, err)
		assert.Equal(t, 0, replayed)
		assert.Equal(t, []string{"evt_a", "evt_bad"}, ch.keys(t, FailureQueueName))
	})

	t.Run("run is bounded by the starting depth", func(t *testing.T) {
		ch := newMemoryChannel()
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_bad"})
		q := newQueue(ch, 10, logging.Nop())

		calls := 0
		replayed, err := q.Replay(ctx, 10, func(ctx context.Context, f *models.FulfillmentFailure) error {
			calls++
			return apperr.FulfillmentRejected(500, "down")
		})
		require.Error(t, err)
		assert.Equal(t, 0, replayed)
		assert.Equal(t, 1, calls)
		assert.Len(t, ch.queues[FailureQueueName], 1)
	})

	t.Run("order is parked after the attempt limit", func(t *testing.T) {
		ch := newMemoryChannel()
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_bad", Attempts: 1})
		q := newQueue(ch, 3, logging.Nop())

		_, err := q.Replay(ctx, 10, rejectKeys("evt_bad"))
		require.Error(t, err)
		assert.Equal(t, []string{"evt_bad"}, ch.keys(t, FailureQueueName))

		_, err = q.Replay(ctx, 10, rejectKeys("evt_bad"))
		require.Error(t, err)
		assert.Empty(t, ch.queues[FailureQueueName])
		assert.Equal(t, []string{"evt_bad"}, ch.keys(t, ParkedQueueName))

		depth, err := q.Depth()
		require.NoError(t, err)
		assert.Equal(t, 0, depth)

		parked, err := decodeFailure(ch.queues[ParkedQueueName][0])
		require.NoError(t, err)
		assert.Equal(t, 3, parked.Attempts)
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		ch := newMemoryChannel()
		ch.queues[FailureQueueName] = [][]byte{[]byte("{not json")}
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_a"})
		q := newQueue(ch, 3, logging.Nop())

		replayed, err := q.Replay(ctx, 10, rejectKeys())
		require.NoError(t, err)
		assert.Equal(t, 1, replayed)
		assert.Equal(t, 1, ch.dropped)
		assert.Empty(t, ch.queues[FailureQueueName])
	})

	t.Run("cancelled context stops before pulling", func(t *testing.T) {
		ch := newMemoryChannel()
		ch.push(t, &models.FulfillmentFailure{IdempotencyKey: "evt_a"})
		q := newQueue(ch, 3, logging.Nop())

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		replayed, err := q.Replay(cctx, 10, rejectKeys())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, replayed)
		assert.Len(t, ch.queues[FailureQueueName], 1)
	})
}

func TestEncodeFailureCarriesAttempts(t *testing.T) {
	msg, err := encodeFailure(&models.FulfillmentFailure{IdempotencyKey: "k", Attempts: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), msg.Headers["x-replay-attempts"])
}
