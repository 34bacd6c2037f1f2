// Package paymentprovider оборачивает stripe-go: клиенты, подписки,
// платёжные источники и проверка подписи вебхуков.
package paymentprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentsource"
	"github.com/stripe/stripe-go/v82/subscription"
)

// ErrEmptyResponse возвращается, если в ответе API нет идентификатора объекта.
var ErrEmptyResponse = errors.New("billing api: empty object in response")

// Client обращается к API платёжной системы.
type Client struct {
	customers     *customer.Client
	subscriptions *subscription.Client
	sources       *paymentsource.Client
}

// NewClient создаёт клиент с секретным ключом, базовым URL и таймаутом запросов.
// Пустой apiURL означает боевой адрес Stripe. Повторы выключены: повтор шага
// делает сервис с тем же ключом идемпотентности.
func NewClient(secretKey, apiURL string, timeout time.Duration, log *slog.Logger) *Client {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     leveledLogger{log: log.With(slog.String("component", "stripe"))},
	}
	if apiURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(apiURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	return &Client{
		customers:     &customer.Client{B: backend, Key: secretKey},
		subscriptions: &subscription.Client{B: backend, Key: secretKey},
		sources:       &paymentsource.Client{B: backend, Key: secretKey},
	}
}

func params(ctx context.Context, idempotencyKey string) stripe.Params {
	p := stripe.Params{Context: ctx}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	return p
}

// CreateCustomer создаёт клиента с платёжным токеном в качестве источника по умолчанию.
func (c *Client) CreateCustomer(ctx context.Context, email, sourceToken, idempotencyKey string) (*Customer, error) {
	const op = "paymentprovider.CreateCustomer"
	p := &stripe.CustomerParams{
		Params: params(ctx, idempotencyKey),
		Email:  stripe.String(email),
	}
	if sourceToken != "" {
		p.Source = stripe.String(sourceToken)
	}
	p.AddExpand("default_source")

	cus, err := c.customers.New(p)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if cus == nil || cus.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	return customerFrom(cus), nil
}

// RetrieveCustomer возвращает клиента вместе с источником по умолчанию.
func (c *Client) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	const op = "paymentprovider.RetrieveCustomer"
	p := &stripe.CustomerParams{Params: params(ctx, "")}
	p.AddExpand("default_source")

	cus, err := c.customers.Get(customerID, p)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if cus == nil || cus.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	return customerFrom(cus), nil
}

// CreateSubscription подписывает клиента на цену planID.
func (c *Client) CreateSubscription(ctx context.Context, customerID, planID, idempotencyKey string) (*Subscription, error) {
	const op = "paymentprovider.CreateSubscription"
	sub, err := c.subscriptions.New(&stripe.SubscriptionParams{
		Params:   params(ctx, idempotencyKey),
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(planID)},
		},
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	if sub == nil || sub.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	return subscriptionFrom(sub), nil
}

// CancelSubscription немедленно отменяет подписку.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	const op = "paymentprovider.CancelSubscription"
	sub, err := c.subscriptions.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{
		Params: params(ctx, ""),
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	return subscriptionFrom(sub), nil
}

// AttachSource привязывает платёжный токен к клиенту и возвращает созданную карту.
func (c *Client) AttachSource(ctx context.Context, customerID, sourceToken, idempotencyKey string) (*Card, error) {
	const op = "paymentprovider.AttachSource"
	src, err := c.sources.New(&stripe.PaymentSourceParams{
		Params:   params(ctx, idempotencyKey),
		Customer: stripe.String(customerID),
		Source:   &stripe.PaymentSourceSourceParams{Token: stripe.String(sourceToken)},
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	card := cardFrom(src)
	if card == nil || card.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	return card, nil
}

// SetDefaultSource делает карту источником по умолчанию для клиента.
func (c *Client) SetDefaultSource(ctx context.Context, customerID, sourceID string) (*Customer, error) {
	const op = "paymentprovider.SetDefaultSource"
	p := &stripe.CustomerParams{
		Params:        params(ctx, ""),
		DefaultSource: stripe.String(sourceID),
	}
	p.AddExpand("default_source")

	cus, err := c.customers.Update(customerID, p)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return customerFrom(cus), nil
}
