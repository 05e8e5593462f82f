package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

func TestEncodeFailure(t *testing.T) {
	failure := &models.FulfillmentFailure{
		IdempotencyKey: "evt_123",
		ArtworkURL:     "https://cdn.example/a.png",
		Address:        models.Address{Country: "CA"},
		Code:           "fulfillment_rejected",
		Reason:         "status 400",
	}

	msg, err := encodeFailure(failure)
	require.NoError(t, err)

	assert.Equal(t, "evt_123", msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "status 400", msg.Headers["x-failure-reason"])
	assert.Equal(t, "fulfillment_rejected", msg.Headers["x-failure-code"])
	assert.False(t, failure.FailedAt.IsZero())

	decoded, err := decodeFailure(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", decoded.IdempotencyKey)
	assert.Equal(t, "CA", decoded.Address.Country)
}

func TestEncodeFailureKeepsTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encodeFailure(&models.FulfillmentFailure{IdempotencyKey: "k", FailedAt: at})
	require.NoError(t, err)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, "2026-03-01T12:00:00Z", msg.Headers["x-failed-at"])
}

func TestDecodeFailureMalformed(t *testing.T) {
	_, err := decodeFailure([]byte("{not json"))
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(logging.New(&buf, "info"))

	err := p.PublishFulfillmentFailure(context.Background(), &models.FulfillmentFailure{
		IdempotencyKey: "evt_9",
		Code:           "sku_resolution_failed",
	})
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "evt_9", entry["idempotency_key"])
	assert.Equal(t, "sku_resolution_failed", entry["code"])
}
