package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ackRecorder запоминает подтверждения вместо брокера.
type ackRecorder struct {
	mu       sync.Mutex
	acked    []uint64
	requeued []uint64
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued = append(a.requeued, tag)
	}
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) snapshot() ([]uint64, []uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acked...), append([]uint64(nil), a.requeued...)
}

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServe_AcksAndRequeues(t *testing.T) {
	prev := requeueDelay
	requeueDelay = 0
	t.Cleanup(func() { requeueDelay = prev })

	ack := &ackRecorder{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("ok")}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("fail")}
	close(deliveries)

	done := Serve(context.Background(), "notifications.email", deliveries, newDiscardLogger(), func(body []byte) error {
		if string(body) == "fail" {
			return errors.New("smtp down")
		}
		return nil
	})

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDeliveriesClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	acked, requeued := ack.snapshot()
	assert.Equal(t, []uint64{1}, acked)
	assert.Equal(t, []uint64{2}, requeued)
}

func TestServe_StopsOnContextWithoutError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan amqp.Delivery)

	done := Serve(ctx, "notifications.email", deliveries, newDiscardLogger(), func([]byte) error { return nil })
	cancel()

	select {
	case err, ok := <-done:
		assert.False(t, ok, "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestServe_RequeueWaitsForDelay(t *testing.T) {
	prev := requeueDelay
	requeueDelay = 50 * time.Millisecond
	t.Cleanup(func() { requeueDelay = prev })

	ack := &ackRecorder{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte("fail")}
	close(deliveries)

	started := time.Now()
	done := Serve(context.Background(), "notifications.email", deliveries, newDiscardLogger(), func([]byte) error {
		return errors.New("smtp down")
	})
	<-done

	_, requeued := ack.snapshot()
	assert.Equal(t, []uint64{7}, requeued)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}
