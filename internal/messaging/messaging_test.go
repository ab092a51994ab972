package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/config"
)

func TestNewClientDisabledIsNoop(t *testing.T) {
	cfg := config.Config{Messaging: config.Messaging{Enabled: false, Kafka: config.Kafka{Topic: "invoices.events"}}}

	client, err := NewClient(fxtest.NewLifecycle(t), cfg, zap.NewNop())

	require.NoError(t, err)
	assert.IsType(t, noopClient{}, client)
	assert.Equal(t, "invoices.events", client.Topic())
	assert.NoError(t, client.Publish(context.Background(), []byte("k"), []byte("v")))
}

func TestNewClientRejectsUnknownDriver(t *testing.T) {
	cfg := config.Config{Messaging: config.Messaging{Enabled: true, Driver: "nats"}}

	_, err := NewClient(fxtest.NewLifecycle(t), cfg, zap.NewNop())

	assert.EqualError(t, err, "unsupported messaging driver: nats")
}

func TestMemoryClientDeliversInOrder(t *testing.T) {
	client := NewMemoryClient("invoices.events", 4, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, client.Publish(ctx, []byte("invoice-1"), []byte(`{"id":"1"}`)))
	require.NoError(t, client.Publish(ctx, []byte("invoice-2"), []byte(`{"id":"2"}`)))

	consumeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var got []Message
	err := client.Consume(consumeCtx, func(_ context.Context, msg Message) error {
		got = append(got, msg)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.Equal(t, "invoice-1", string(got[0].Key))
	assert.Equal(t, int64(1), got[0].Offset)
	assert.Equal(t, int64(2), got[1].Offset)
	assert.Equal(t, "invoices.events", got[1].Topic)
	assert.Equal(t, "application/json", got[1].Headers[ContentTypeHeader])
}

func TestMemoryClientClose(t *testing.T) {
	client := NewMemoryClient("invoices.events", 1, nil)
	client.Close()
	client.Close()

	assert.ErrorIs(t, client.Publish(context.Background(), nil, []byte("x")), ErrClosed)
	assert.NoError(t, client.Consume(context.Background(), func(context.Context, Message) error { return nil }))
}

func TestMemoryClientDropsWhenFull(t *testing.T) {
	client := NewMemoryClient("invoices.events", 2, nil)
	ctx := context.Background()
	require.NoError(t, client.Publish(ctx, []byte("invoice-1"), []byte("1")))
	require.NoError(t, client.Publish(ctx, []byte("invoice-2"), []byte("2")))

	done := make(chan error, 1)
	go func() { done <- client.Publish(ctx, []byte("invoice-3"), []byte("3")) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBufferFull)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}

func TestMemoryClientPublishHonoursCancelledContext(t *testing.T) {
	client := NewMemoryClient("invoices.events", 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, client.Publish(ctx, nil, []byte("x")), context.Canceled)
}
