package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/metrics"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/notify"
	"github.com/magabrotheeeer/writingstreak/internal/paymentprovider"
	"github.com/magabrotheeeer/writingstreak/internal/storage"
)

// HandleWebhook проверяет подпись события и обрабатывает его один раз.
// Повторная доставка того же события подтверждается без действий. При ошибке
// обработки отметка события снимается, чтобы повторная доставка была обработана.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "billing.HandleWebhook"
	log := s.log.With(slog.String("op", op))

	event, err := s.verifier.ConstructEvent(payload, signature)
	if err != nil {
		metrics.ObserveWebhook("unverified", metrics.ResultError)
		log.Warn("webhook rejected", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	log = log.With(slog.String("event_id", event.ID), slog.String("event_type", event.Type))

	key := eventKey(event.ID)
	first, err := s.coord.MarkOnce(ctx, key, s.cfg.DedupTTL)
	if err != nil {
		metrics.ObserveWebhook(event.Type, metrics.ResultError)
		return fmt.Errorf("%s: %w", op, err)
	}
	if !first {
		metrics.ObserveWebhook(event.Type, metrics.ResultDuplicate)
		log.Info("duplicate webhook ignored")
		return nil
	}

	res, err := s.dispatch(ctx, event, log)
	if err != nil {
		metrics.ObserveWebhook(event.Type, metrics.ResultError)
		if ierr := s.coord.Invalidate(context.WithoutCancel(ctx), key); ierr != nil {
			log.Error("failed to release webhook event mark", sl.Err(ierr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ObserveWebhook(event.Type, res)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentprovider.Event, log *slog.Logger) (string, error) {
	switch event.Type {
	case paymentprovider.EventInvoicePaymentFailed:
		log.Warn("payment failed", slog.String("customer_id", event.CustomerID()))
		s.notifier.Send(ctx, notify.PaymentFailed(s.cfg.AdminEmail, event.Indented()))
		return metrics.ResultOK, nil
	case paymentprovider.EventSubscriptionDeleted:
		return s.reconcileDeleted(ctx, event, log)
	default:
		log.Debug("webhook acknowledged without action")
		return metrics.ResultIgnored, nil
	}
}

// reconcileDeleted возвращает на бесплатный план учётную запись, чья текущая
// подписка удалена на стороне платёжной системы.
func (s *Service) reconcileDeleted(ctx context.Context, event *paymentprovider.Event, log *slog.Logger) (string, error) {
	customerID, subscriptionID := event.CustomerID(), event.SubscriptionID()
	if customerID == "" || subscriptionID == "" {
		return metrics.ResultIgnored, nil
	}

	acc, err := s.repo.GetAccountByCustomerID(ctx, customerID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		log.Info("no account for billing customer", slog.String("customer_id", customerID))
		return metrics.ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}

	res := metrics.ResultIgnored
	err = s.withAccount(ctx, acc.ID, func(ctx context.Context, acc *models.Account) error {
		if acc.Billing.SubscriptionID != subscriptionID {
			return nil
		}
		now := s.now()
		if _, err := s.save(ctx, acc, models.AccountUpdate{
			Plan:           models.Ptr(models.PlanFree),
			SubscriptionID: models.Ptr(""),
			ReconciledAt:   &now,
		}); err != nil {
			return err
		}
		res = metrics.ResultOK
		return nil
	})
	if err != nil {
		return "", err
	}
	if res == metrics.ResultOK {
		log.Info("account reconciled to free plan", slog.String("account_id", acc.ID))
	}
	return res, nil
}
