package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/writingstreak/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/writingstreak/internal/services/sender"
)

type HandlerMock struct {
	mock.Mock
}

func (m *HandlerMock) HandleMessage(body []byte) error {
	args := m.Called(body)
	return args.Error(0)
}

func TestDeliver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	smtpDown := errors.New("smtp down")

	tests := []struct {
		name       string
		handlerErr error
		wantErr    error
	}{
		{name: "delivered", handlerErr: nil, wantErr: nil},
		{name: "invalid message is dropped", handlerErr: fmt.Errorf("op: %w", sender.ErrInvalidMessage), wantErr: nil},
		{name: "permanent smtp rejection is dropped", handlerErr: fmt.Errorf("op: %w: 550 no such user", sender.ErrRejected), wantErr: nil},
		{name: "transport error is requeued", handlerErr: smtpDown, wantErr: smtpDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := new(HandlerMock)
			body := []byte(`{"to":"a@x.com"}`)
			h.On("HandleMessage", body).Return(tt.handlerErr).Once()

			err := Deliver(h, logger)(body)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			h.AssertExpectations(t)
		})
	}
}

func newTestApp(deliveries chan amqp.Delivery) *App {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &App{
		consume: func(ctx context.Context, queue string, handler func([]byte) error) (<-chan error, error) {
			return rabbitmq.Serve(ctx, queue, deliveries, logger, handler), nil
		},
		handler: new(HandlerMock),
		logger:  logger,
	}
}

func TestApp_RunReturnsWhenDeliveriesClose(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	app := newTestApp(deliveries)

	result := make(chan error, 1)
	go func() { result <- app.Run(context.Background()) }()
	close(deliveries)

	select {
	case err := <-result:
		require.ErrorIs(t, err, rabbitmq.ErrDeliveriesClosed)
		assert.Contains(t, err.Error(), "mailer.Run")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the broker closed deliveries")
	}
}

func TestApp_RunStopsOnContext(t *testing.T) {
	app := newTestApp(make(chan amqp.Delivery))
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunConsumeError(t *testing.T) {
	refused := errors.New("channel closed")
	app := &App{
		consume: func(context.Context, string, func([]byte) error) (<-chan error, error) {
			return nil, refused
		},
		handler: new(HandlerMock),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := app.Run(context.Background())
	require.ErrorIs(t, err, refused)
}
