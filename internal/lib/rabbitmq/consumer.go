package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/streadway/amqp"
)

// ErrDeliveriesClosed означает, что брокер закрыл канал доставок:
// соединение или канал AMQP потеряны, и консьюмер больше ничего не получит.
var ErrDeliveriesClosed = errors.New("rabbitmq: deliveries channel closed")

// requeueDelay задаёт паузу перед возвратом сообщения в очередь после ошибки.
var requeueDelay = 5 * time.Second

// ConsumeMessages запускает обработку сообщений из очереди queueName.
// Возвращаемый канал описан у Serve.
func ConsumeMessages(ctx context.Context, ch *amqp.Channel, queueName string,
	log *slog.Logger, handler func([]byte) error) (<-chan error, error) {
	const op = "rabbitmq.ConsumeMessages"

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return Serve(ctx, queueName, deliveries, log, handler), nil
}

// Serve обрабатывает доставки до отмены ctx или закрытия deliveries.
// Успешно обработанные сообщения подтверждаются, при ошибке handler сообщение
// возвращается в очередь после паузы requeueDelay. Одновременно обрабатывается
// не больше prefetch сообщений.
// Канал результата закрывается после остановки. Если доставки закончились
// раньше отмены ctx, в него сначала пишется ErrDeliveriesClosed.
func Serve(ctx context.Context, queueName string, deliveries <-chan amqp.Delivery,
	log *slog.Logger, handler func([]byte) error) <-chan error {
	done := make(chan error, 1)
	sem := make(chan struct{}, prefetch)
	var wg sync.WaitGroup

	go func() {
		defer close(done)
		err := dispatch(ctx, queueName, deliveries, sem, &wg, log, handler)
		wg.Wait()
		if err != nil {
			done <- err
		}
	}()
	return done
}

func dispatch(ctx context.Context, queueName string, deliveries <-chan amqp.Delivery, sem chan struct{},
	wg *sync.WaitGroup, log *slog.Logger, handler func([]byte) error) error {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				log.Error("deliveries channel closed", slog.String("queue", queueName))
				return fmt.Errorf("%w: queue %s", ErrDeliveriesClosed, queueName)
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				handle(ctx, queueName, d, log, handler)
			}(d)
		case <-ctx.Done():
			return nil
		}
	}
}

func handle(ctx context.Context, queueName string, d amqp.Delivery, log *slog.Logger, handler func([]byte) error) {
	if err := handler(d.Body); err != nil {
		log.Error("failed to handle message", slog.String("queue", queueName), sl.Err(err))
		wait(ctx, requeueDelay)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
