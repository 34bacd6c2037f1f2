// Package billing управляет платным планом учётной записи: переход на premium,
// смена платёжного метода, отмена подписки и обработка вебхуков платёжной системы.
//
// Поля billing учётной записи кэшируют состояние платёжной системы. Каждое изменение
// выполняется под блокировкой учётной записи и записывается одним обновлением
// с проверкой версии.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/writingstreak/internal/cache"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/metrics"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/notify"
	"github.com/magabrotheeeer/writingstreak/internal/paymentprovider"
)

// Ошибки сервиса.
var (
	ErrUpgradeFailed        = errors.New("Error upgrading an account")
	ErrPaymentUpdateFailed  = errors.New("Error updating payment method")
	ErrCancelFailed         = errors.New("Error cancelling subscription")
	ErrNoActiveCustomer     = errors.New("account has no billing customer")
	ErrNoActiveSubscription = errors.New("account has no active subscription")
	ErrAlreadyPremium       = errors.New("account is already premium")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrBusy                 = errors.New("another billing operation is in progress")
)

// Repository описывает хранилище учётных записей.
type Repository interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	UpdateBilling(ctx context.Context, id string, upd models.AccountUpdate, expectedBillingVersion int64) (*models.Account, error)
}

// Gateway описывает клиент платёжной системы.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, sourceToken, idempotencyKey string) (*paymentprovider.Customer, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*paymentprovider.Customer, error)
	CreateSubscription(ctx context.Context, customerID, planID, idempotencyKey string) (*paymentprovider.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*paymentprovider.Subscription, error)
	AttachSource(ctx context.Context, customerID, sourceToken, idempotencyKey string) (*paymentprovider.Card, error)
	SetDefaultSource(ctx context.Context, customerID, sourceID string) (*paymentprovider.Customer, error)
}

// Verifier проверяет подпись вебхука и разбирает событие.
type Verifier interface {
	ConstructEvent(payload []byte, header string) (*paymentprovider.Event, error)
}

// Coordinator даёт блокировки учётных записей и множество обработанных событий.
type Coordinator interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

// Notifier ставит письма в очередь.
type Notifier interface {
	Send(ctx context.Context, msg models.Message)
}

// Config содержит параметры сервиса.
type Config struct {
	PlanID     string
	AdminEmail string
	Timeout    time.Duration
	LockTTL    time.Duration
	DedupTTL   time.Duration
}

// Service реализует управление подпиской.
type Service struct {
	repo     Repository
	gateway  Gateway
	verifier Verifier
	coord    Coordinator
	notifier Notifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт сервис подписок.
func New(repo Repository, gateway Gateway, verifier Verifier, coord Coordinator, notifier Notifier, cfg Config, log *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Timeout * 2
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 72 * time.Hour
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		verifier: verifier,
		coord:    coord,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func lockKey(accountID string) string {
	return "billing:lock:" + accountID
}

func eventKey(eventID string) string {
	return "billing:event:" + eventID
}

// withAccount выполняет fn под блокировкой учётной записи над свежей копией из хранилища.
// Вызовы платёжной системы не прерываются при отмене ctx клиентом, но ограничены cfg.Timeout.
func (s *Service) withAccount(ctx context.Context, accountID string, fn func(ctx context.Context, acc *models.Account) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	release, err := s.coord.Lock(ctx, lockKey(accountID), s.cfg.LockTTL)
	if errors.Is(err, cache.ErrLocked) {
		return ErrBusy
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("failed to release account lock", slog.String("account_id", accountID), sl.Err(err))
		}
	}()

	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	return fn(ctx, acc)
}

// save проверяет инварианты результата и записывает изменения с проверкой billing_version.
// Вход в систему и правка профиля эту версию не меняют.
func (s *Service) save(ctx context.Context, acc *models.Account, upd models.AccountUpdate) (*models.Account, error) {
	next := upd.Apply(*acc)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return s.repo.UpdateBilling(ctx, acc.ID, upd, acc.BillingVersion)
}

func sourceFields(upd *models.AccountUpdate, card *paymentprovider.Card) {
	if card == nil {
		return
	}
	upd.SourceID = &card.ID
	upd.SourceLast4 = &card.Last4
	upd.SourceBrand = &card.Brand
}

// Upgrade переводит учётную запись на premium. Существующий клиент платёжной
// системы переиспользуется, и переданный paymentToken становится его источником
// по умолчанию. Новый клиент создаётся с paymentToken в качестве источника.
// Идентификатор нового клиента сохраняется до создания подписки, поэтому
// неудачная подписка не оставляет клиента без ссылки на него.
func (s *Service) Upgrade(ctx context.Context, accountID, paymentToken string) (_ models.PublicAccount, err error) {
	const op = "billing.Upgrade"
	started := time.Now()
	defer func() { metrics.ObserveBilling("upgrade", started, err) }()

	log := s.log.With(slog.String("op", op), slog.String("account_id", accountID))

	var result *models.Account
	err = s.withAccount(ctx, accountID, func(ctx context.Context, acc *models.Account) error {
		if acc.IsPremium() {
			return ErrAlreadyPremium
		}

		var (
			customer *paymentprovider.Customer
			err      error
		)
		if acc.Billing.CustomerID != "" {
			customer, err = s.gateway.RetrieveCustomer(ctx, acc.Billing.CustomerID)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
			}
			if paymentToken != "" {
				if customer, err = s.replaceSource(ctx, acc, paymentToken); err != nil {
					return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
				}
			}
		} else {
			if paymentToken == "" {
				return fmt.Errorf("%w: payment token is required", ErrUpgradeFailed)
			}
			customer, err = s.gateway.CreateCustomer(ctx, acc.Email, paymentToken, idempotencyKey("customer", acc))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
			}
			acc, err = s.save(ctx, acc, models.AccountUpdate{CustomerID: &customer.ID})
			if err != nil {
				log.Error("billing customer created but not stored",
					slog.String("customer_id", customer.ID), sl.Err(err))
				return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
			}
			log.Info("billing customer created", slog.String("customer_id", customer.ID))
		}

		sub, err := s.gateway.CreateSubscription(ctx, customer.ID, s.cfg.PlanID, idempotencyKey("subscription", acc))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
		}

		now := s.now()
		upd := models.AccountUpdate{
			Plan:           models.Ptr(models.PlanPremium),
			CustomerID:     &customer.ID,
			SubscriptionID: &sub.ID,
			ReconciledAt:   &now,
		}
		sourceFields(&upd, customer.DefaultSource)

		result, err = s.save(ctx, acc, upd)
		if err != nil {
			log.Error("subscription created but not stored", slog.String("subscription_id", sub.ID), sl.Err(err))
			return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
		}
		return nil
	})
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account upgraded")
	s.notifier.Send(ctx, notify.Upgraded(s.cfg.AdminEmail, result.Email))
	return result.Public(), nil
}

// replaceSource привязывает paymentToken к клиенту и делает его источником по умолчанию.
func (s *Service) replaceSource(ctx context.Context, acc *models.Account, paymentToken string) (*paymentprovider.Customer, error) {
	card, err := s.gateway.AttachSource(ctx, acc.Billing.CustomerID, paymentToken, idempotencyKey("source", acc))
	if err != nil {
		return nil, err
	}
	customer, err := s.gateway.SetDefaultSource(ctx, acc.Billing.CustomerID, card.ID)
	if err != nil {
		return nil, err
	}
	if customer.DefaultSource == nil || customer.DefaultSource.Last4 == "" {
		customer.DefaultSource = card
	}
	if customer.ID == "" {
		customer.ID = acc.Billing.CustomerID
	}
	return customer, nil
}

// UpdatePaymentMethod заменяет источник оплаты существующего клиента.
func (s *Service) UpdatePaymentMethod(ctx context.Context, accountID, paymentToken string) (_ models.PublicAccount, err error) {
	const op = "billing.UpdatePaymentMethod"
	started := time.Now()
	defer func() { metrics.ObserveBilling("update_payment_method", started, err) }()

	var result *models.Account
	err = s.withAccount(ctx, accountID, func(ctx context.Context, acc *models.Account) error {
		if acc.Billing.CustomerID == "" {
			return ErrNoActiveCustomer
		}
		if paymentToken == "" {
			return fmt.Errorf("%w: payment token is required", ErrPaymentUpdateFailed)
		}
		customer, err := s.replaceSource(ctx, acc, paymentToken)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPaymentUpdateFailed, err)
		}

		now := s.now()
		upd := models.AccountUpdate{ReconciledAt: &now}
		sourceFields(&upd, customer.DefaultSource)
		if result, err = s.save(ctx, acc, upd); err != nil {
			return fmt.Errorf("%w: %w", ErrPaymentUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("payment method updated", slog.String("account_id", accountID))
	return result.Public(), nil
}

// Cancel отменяет подписку и возвращает учётную запись на бесплатный план.
// Без активной подписки платёжная система не вызывается.
func (s *Service) Cancel(ctx context.Context, accountID string) (_ models.PublicAccount, err error) {
	const op = "billing.Cancel"
	started := time.Now()
	defer func() { metrics.ObserveBilling("cancel", started, err) }()

	var result *models.Account
	err = s.withAccount(ctx, accountID, func(ctx context.Context, acc *models.Account) error {
		if acc.Billing.SubscriptionID == "" {
			return ErrNoActiveSubscription
		}
		if _, err := s.gateway.CancelSubscription(ctx, acc.Billing.SubscriptionID); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelFailed, err)
		}

		now := s.now()
		var err error
		result, err = s.save(ctx, acc, models.AccountUpdate{
			Plan:           models.Ptr(models.PlanFree),
			SubscriptionID: models.Ptr(""),
			ReconciledAt:   &now,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCancelFailed, err)
		}
		return nil
	})
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("subscription cancelled", slog.String("account_id", accountID))
	s.notifier.Send(ctx, notify.Cancelled(s.cfg.AdminEmail, result.Email))
	return result.Public(), nil
}

// idempotencyKey строится из billing_version: повтор одного и того же шага
// после сетевой ошибки не создаёт второй объект в платёжной системе.
func idempotencyKey(step string, acc *models.Account) string {
	return fmt.Sprintf("%s-%s-%d", step, acc.ID, acc.BillingVersion)
}
