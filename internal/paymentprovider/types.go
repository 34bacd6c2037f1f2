package paymentprovider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
)

// Card описывает карту, привязанную к клиенту.
type Card struct {
	ID    string
	Last4 string
	Brand string
}

// Customer описывает клиента в платёжной системе.
type Customer struct {
	ID            string
	Email         string
	DefaultSource *Card
}

// Subscription описывает подписку клиента на план.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
}

// Error содержит ошибку, которую вернул API платёжной системы.
type Error struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing api: %d %s (%s): %s", e.StatusCode, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("billing api: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// wrapError переводит *stripe.Error в Error, остальные ошибки оставляет как есть.
func wrapError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w", op, err)
	}
	e := &Error{
		StatusCode: se.HTTPStatusCode,
		Type:       string(se.Type),
		Code:       string(se.Code),
		Message:    se.Msg,
	}
	if e.Type == "" {
		e.Type = "api_error"
	}
	return fmt.Errorf("%s: %w", op, e)
}

// cardFrom без expand получает только идентификатор источника.
func cardFrom(src *stripe.PaymentSource) *Card {
	if src == nil {
		return nil
	}
	card := &Card{ID: src.ID}
	if src.Card != nil {
		if src.Card.ID != "" {
			card.ID = src.Card.ID
		}
		card.Last4 = src.Card.Last4
		card.Brand = string(src.Card.Brand)
	}
	return card
}

func customerFrom(c *stripe.Customer) *Customer {
	if c == nil {
		return &Customer{}
	}
	return &Customer{
		ID:            c.ID,
		Email:         c.Email,
		DefaultSource: cardFrom(c.DefaultSource),
	}
}

func subscriptionFrom(s *stripe.Subscription) *Subscription {
	if s == nil {
		return &Subscription{}
	}
	sub := &Subscription{ID: s.ID, Status: string(s.Status)}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	return sub
}

// leveledLogger направляет журнал stripe-go в slog.
type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...any)  { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
