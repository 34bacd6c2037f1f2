// Package notify публикует письма пользователям и администратору в брокер сообщений.
// Отправка выполняется в режиме best‑effort: ошибка публикации логируется
// и не влияет на результат бизнес‑операции.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/writingstreak/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/metrics"
	"github.com/magabrotheeeer/writingstreak/internal/models"
)

const publishTimeout = 5 * time.Second

// Publisher публикует сообщение с ключом маршрутизации.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Notifier ставит письма в очередь на отправку.
type Notifier struct {
	pub  Publisher
	from string
	log  *slog.Logger
}

// New создаёт Notifier. from подставляется в письма без отправителя.
func New(pub Publisher, from string, log *slog.Logger) *Notifier {
	return &Notifier{pub: pub, from: from, log: log}
}

// Send публикует письмо. Отмена ctx вызывающей стороны не прерывает публикацию.
func (n *Notifier) Send(ctx context.Context, msg models.Message) {
	if msg.From == "" {
		msg.From = n.from
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := n.pub.Publish(ctx, rabbitmq.EmailRoutingKey, msg)
	metrics.ObserveNotification(err)
	if err != nil {
		n.log.Error("failed to publish notification",
			sl.Email(msg.To), slog.String("subject", msg.Subject), sl.Err(err))
	}
}
