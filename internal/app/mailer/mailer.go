// Package mailer собирает воркер доставки писем: читает очередь уведомлений
// и отправляет письма через SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/writingstreak/internal/config"
	"github.com/magabrotheeeer/writingstreak/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/lib/smtp"
	"github.com/magabrotheeeer/writingstreak/internal/services/sender"
)

// MessageHandler обрабатывает тело одного сообщения из очереди.
type MessageHandler interface {
	HandleMessage(body []byte) error
}

// consumeFunc запускает чтение очереди и возвращает канал, описанный у rabbitmq.Serve.
type consumeFunc func(ctx context.Context, queue string, handler func([]byte) error) (<-chan error, error)

// App доставляет письма из очереди.
type App struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	consume consumeFunc
	handler MessageHandler
	logger  *slog.Logger
}

// New подключается к брокеру и готовит SMTP транспорт.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		conn.Close()
		return nil, err
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	return &App{
		conn: conn,
		ch:   ch,
		consume: func(ctx context.Context, queue string, handler func([]byte) error) (<-chan error, error) {
			return rabbitmq.ConsumeMessages(ctx, ch, queue, logger, handler)
		},
		handler: sender.New(transport, cfg.ContactEmail, logger),
		logger:  logger,
	}, nil
}

// Run потребляет очереди уведомлений до отмены ctx.
// Если брокер закрыл доставку хотя бы одной очереди, Run возвращает ошибку,
// чтобы процесс перезапустился и подключился заново.
func (a *App) Run(ctx context.Context) error {
	const op = "mailer.Run"
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queues := rabbitmq.GetNotificationQueues()
	stopped := make(chan error, len(queues))
	for _, q := range queues {
		done, err := a.consume(ctx, q.QueueName, Deliver(a.handler, a.logger))
		if err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
		go func() {
			if err, ok := <-done; ok && err != nil {
				stopped <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("mailer shutting down gracefully")
		return nil
	case err := <-stopped:
		a.logger.Error("consumer stopped", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Deliver оборачивает handler для консьюмера. Битые сообщения и письма,
// окончательно отклонённые SMTP сервером, подтверждаются и отбрасываются,
// остальные ошибки возвращают сообщение в очередь.
func Deliver(handler MessageHandler, logger *slog.Logger) func([]byte) error {
	return func(body []byte) error {
		err := handler.HandleMessage(body)
		switch {
		case errors.Is(err, sender.ErrInvalidMessage):
			logger.Warn("dropping invalid message", sl.Err(err))
			return nil
		case errors.Is(err, sender.ErrRejected):
			logger.Warn("dropping message rejected by smtp server", sl.Err(err))
			return nil
		}
		return err
	}
}
