// Package sender доставляет письма из очереди уведомлений через SMTP.
package sender

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"strings"

	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/lib/smtp"
	"github.com/magabrotheeeer/writingstreak/internal/models"
)

var (
	// ErrInvalidMessage возвращается для неразборчивых сообщений и сообщений без получателя или темы.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrRejected возвращается, если SMTP сервер отказал окончательно (код 5xx).
	// Повторная отправка такого письма ничего не изменит.
	ErrRejected = errors.New("message rejected by smtp server")
)

// Service отправляет письма, полученные из брокера.
type Service struct {
	transport   smtp.TransportInterface
	defaultFrom string
	log         *slog.Logger
}

// New создаёт сервис отправки. defaultFrom используется, если в сообщении
// не указан отправитель.
func New(transport smtp.TransportInterface, defaultFrom string, log *slog.Logger) *Service {
	return &Service{
		transport:   transport,
		defaultFrom: defaultFrom,
		log:         log,
	}
}

// HandleMessage разбирает тело сообщения из очереди и отправляет письмо.
func (s *Service) HandleMessage(body []byte) error {
	const op = "sender.HandleMessage"

	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidMessage, err)
	}
	if msg.To == "" || msg.Subject == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidMessage)
	}
	if err := s.Send(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Send отправляет одно письмо.
func (s *Service) Send(msg models.Message) error {
	from := msg.From
	if from == "" {
		from = s.defaultFrom
	}
	envelopeFrom := s.transport.GetSMTPUser()
	if envelopeFrom == "" {
		envelopeFrom = from
	}

	contentType := `text/plain; charset="UTF-8"`
	if msg.HTML {
		contentType = `text/html; charset="UTF-8"`
	}
	raw := strings.Join([]string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: " + contentType,
		"",
		msg.Body,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(envelopeFrom); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", envelopeFrom), sl.Err(err))
		return rejected(err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		s.log.Error("failed to set RCPT TO", sl.Email(msg.To), sl.Err(err))
		return rejected(err)
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return rejected(err)
	}
	if _, err = wc.Write([]byte(raw)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return rejected(err)
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent", sl.Email(msg.To), slog.String("subject", msg.Subject))
	return nil
}

// rejected помечает постоянный отказ сервера как ErrRejected.
func rejected(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600 {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return err
}
