package paymentprovider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

// SignatureHeader содержит подпись вебхука.
const SignatureHeader = "Stripe-Signature"

// Типы событий, которые обрабатывает сервис.
const (
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

// Ошибки проверки вебхука. Ошибки подписи совпадают с ошибками пакета webhook.
var (
	ErrNotSigned        = webhook.ErrNotSigned
	ErrInvalidHeader    = webhook.ErrInvalidHeader
	ErrNoValidSignature = webhook.ErrNoValidSignature
	ErrTooOld           = webhook.ErrTooOld
	ErrInvalidPayload   = errors.New("webhook payload is not a valid event")
)

// Event описывает проверенное событие платёжной системы.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Raw     []byte
}

// Object возвращает объект события (data.object).
func (e *Event) Object() gjson.Result {
	return gjson.GetBytes(e.Raw, "data.object")
}

// CustomerID возвращает идентификатор клиента, к которому относится событие.
func (e *Event) CustomerID() string {
	return e.Object().Get("customer").String()
}

// SubscriptionID возвращает идентификатор подписки из объекта события.
// Для объектов‑подписок это их собственный id, для счетов поле subscription.
func (e *Event) SubscriptionID() string {
	obj := e.Object()
	if obj.Get("object").String() == "subscription" {
		return obj.Get("id").String()
	}
	return obj.Get("subscription").String()
}

// Indented возвращает событие в виде JSON с отступом в 4 пробела.
func (e *Event) Indented() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, e.Raw, "", "    "); err != nil {
		return string(e.Raw)
	}
	return buf.String()
}

// WebhookVerifier проверяет подпись вебхуков общим секретом.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier создаёт проверяющего. Нулевой tolerance означает webhook.DefaultTolerance.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: tolerance}
}

// ConstructEvent проверяет подпись header для payload и разбирает событие.
// Версия API события не сверяется с версией библиотеки.
func (v *WebhookVerifier) ConstructEvent(payload []byte, header string) (*Event, error) {
	const op = "paymentprovider.ConstructEvent"
	evt, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotSigned), errors.Is(err, ErrInvalidHeader),
		errors.Is(err, ErrNoValidSignature), errors.Is(err, ErrTooOld):
		return nil, fmt.Errorf("%s: %w", op, err)
	default:
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidPayload, err)
	}

	event := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
		Raw:     payload,
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidPayload)
	}
	return event, nil
}

// SignPayload формирует значение заголовка подписи для payload на момент t.
func SignPayload(payload []byte, secret string, t time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: t,
	}).Header
}
