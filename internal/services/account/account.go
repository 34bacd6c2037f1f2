// Package account содержит жизненный цикл учётной записи: регистрацию,
// вход по паролю и через внешний провайдер, сброс пароля, проверку
// сессии и работу с профилем.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/writingstreak/internal/lib/jwt"
	"github.com/magabrotheeeer/writingstreak/internal/lib/secret"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/metrics"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/notify"
	"github.com/magabrotheeeer/writingstreak/internal/storage"
)

// Ошибки бизнес‑уровня. Сообщения ErrMismatch и ErrEmailInUse показываются клиенту как есть.
var (
	ErrMissingCredentials    = errors.New("Provide email and password.")
	ErrEmailInUse            = errors.New("Email is in use.")
	ErrMismatch              = errors.New("Email and password don't match")
	ErrFederatedOnly         = errors.New("account uses federated login only")
	ErrNotFound              = errors.New("account not found")
	ErrInvalidOrExpiredToken = errors.New("This token is either invalid or expired.")
	ErrInvalidSession        = errors.New("invalid session")
	ErrInvalidPrefs          = errors.New("prefs must be a JSON object")
)

// Repository описывает хранилище учётных записей.
type Repository interface {
	CreateAccount(ctx context.Context, acc models.Account) (*models.Account, error)
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByFederatedID(ctx context.Context, federatedID string) (*models.Account, error)
	GetAccountByResetToken(ctx context.Context, token string, now time.Time) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate, expectedVersion int64) (*models.Account, error)
}

// Hasher хеширует и проверяет пароли.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// Notifier ставит письма в очередь.
type Notifier interface {
	Send(ctx context.Context, msg models.Message)
}

// Config содержит параметры сервиса.
type Config struct {
	AdminEmail    string
	PublicURL     string
	ResetTokenTTL time.Duration
}

// Session возвращается после успешной аутентификации.
type Session struct {
	Token   string               `json:"token"`
	Account models.PublicAccount `json:"account"`
}

// Service реализует жизненный цикл учётной записи.
type Service struct {
	repo     Repository
	tokens   jwt.Maker
	hasher   Hasher
	notifier Notifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	newToken func() (string, error)
}

// New создаёт сервис учётных записей.
func New(repo Repository, tokens jwt.Maker, hasher Hasher, notifier Notifier, cfg Config, log *slog.Logger) *Service {
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	return &Service{
		repo:     repo,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: func() (string, error) { return secret.RandomHex(secret.ResetTokenBytes) },
	}
}

// NormalizeEmail приводит адрес к виду, в котором он хранится.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) session(acc *models.Account) (*Session, error) {
	token, err := s.tokens.GenerateToken(acc.ID, acc.TokenVersion)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, Account: acc.Public()}, nil
}

// Signup регистрирует учётную запись с паролем на бесплатном плане.
func (s *Service) Signup(ctx context.Context, email, password, source string) (_ *Session, err error) {
	const op = "account.Signup"
	defer func() { metrics.ObserveAccount("signup", err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	existing, err := s.repo.GetAccountByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return nil, ErrEmailInUse
	case err != nil && !errors.Is(err, storage.ErrAccountNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	acc := models.Account{
		Email:        email,
		PasswordHash: hash,
		Plan:         models.PlanFree,
		Source:       source,
		LastLoggedIn: &now,
	}
	if err := acc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := s.repo.CreateAccount(ctx, acc)
	if errors.Is(err, storage.ErrEmailExists) {
		return nil, ErrEmailInUse
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("account created", slog.String("account_id", created.ID), slog.String("source", source))
	s.notifier.Send(ctx, notify.NewUser(s.cfg.AdminEmail, created.Email, created.Source))

	sess, err := s.session(created)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// Login проверяет пароль и выдаёт сессию. ErrNotFound и ErrMismatch на границе HTTP
// показываются одинаково.
func (s *Service) Login(ctx context.Context, email, password string) (_ *Session, err error) {
	const op = "account.Login"
	defer func() { metrics.ObserveAccount("login", err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !acc.HasPassword() {
		if acc.IsFederated() {
			return nil, ErrFederatedOnly
		}
		return nil, ErrMismatch
	}
	if !s.hasher.Verify(password, acc.PasswordHash) {
		return nil, ErrMismatch
	}

	now := s.now()
	acc, err = s.repo.UpdateAccount(ctx, acc.ID, models.AccountUpdate{LastLoggedIn: &now}, storage.AnyVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.session(acc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// FederatedLogin находит или создаёт учётную запись по внешней личности и выдаёт токен.
// Учётная запись с тем же email, но без привязки, получает привязку к провайдеру.
func (s *Service) FederatedLogin(ctx context.Context, identity models.ExternalIdentity) (_ string, err error) {
	const op = "account.FederatedLogin"
	defer func() { metrics.ObserveAccount("federated_login", err) }()

	if identity.Subject == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}
	now := s.now()

	acc, err := s.repo.GetAccountByFederatedID(ctx, identity.Subject)
	switch {
	case err == nil:
		acc, err = s.repo.UpdateAccount(ctx, acc.ID, models.AccountUpdate{LastLoggedIn: &now}, storage.AnyVersion)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, storage.ErrAccountNotFound):
		acc, err = s.linkOrCreateFederated(ctx, identity, now)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	default:
		return "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.tokens.GenerateToken(acc.ID, acc.TokenVersion)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

func (s *Service) linkOrCreateFederated(ctx context.Context, identity models.ExternalIdentity, now time.Time) (*models.Account, error) {
	email := NormalizeEmail(identity.Email)
	if email == "" {
		return nil, ErrMissingCredentials
	}

	existing, err := s.repo.GetAccountByEmail(ctx, email)
	if err == nil {
		if existing.IsFederated() && existing.FederatedID != identity.Subject {
			return nil, ErrEmailInUse
		}
		return s.repo.UpdateAccount(ctx, existing.ID, models.AccountUpdate{
			FederatedID:  &identity.Subject,
			LastLoggedIn: &now,
		}, existing.Version)
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return nil, err
	}

	created, err := s.repo.CreateAccount(ctx, models.Account{
		Email:        email,
		FederatedID:  identity.Subject,
		Plan:         models.PlanFree,
		Source:       "federated",
		LastLoggedIn: &now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	s.log.Info("federated account created", slog.String("account_id", created.ID))
	s.notifier.Send(ctx, notify.NewUser(s.cfg.AdminEmail, created.Email, created.Source))
	return created, nil
}

// RequestPasswordReset выпускает одноразовый токен сброса и отправляет ссылку на email.
// Для неизвестного адреса возвращается ErrNotFound.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	const op = "account.RequestPasswordReset"
	defer func() { metrics.ObserveAccount("reset_request", err) }()

	email = NormalizeEmail(email)
	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.newToken()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	expiry := s.now().Add(s.cfg.ResetTokenTTL)
	if _, err := s.repo.UpdateAccount(ctx, acc.ID, models.AccountUpdate{
		ResetToken:       &token,
		ResetTokenExpiry: &expiry,
	}, storage.AnyVersion); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.notifier.Send(ctx, notify.PasswordReset(acc.Email, s.resetLink(token)))
	s.log.Info("password reset requested", slog.String("account_id", acc.ID))
	return nil
}

func (s *Service) resetLink(token string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// ResetPassword меняет пароль по действующему токену сброса. Токен гасится,
// версия сессионных токенов увеличивается, ранее выданные сессии перестают работать.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (_ *Session, err error) {
	const op = "account.ResetPassword"
	defer func() { metrics.ObserveAccount("reset_password", err) }()

	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	if newPassword == "" {
		return nil, ErrMissingCredentials
	}

	now := s.now()
	acc, err := s.repo.GetAccountByResetToken(ctx, token, now)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// условие по версии гарантирует однократное использование токена
	acc, err = s.repo.UpdateAccount(ctx, acc.ID, models.AccountUpdate{
		PasswordHash:     &hash,
		ClearResetToken:  true,
		LastLoggedIn:     &now,
		BumpTokenVersion: true,
	}, acc.Version)
	if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrAccountNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("password reset", slog.String("account_id", acc.ID))
	sess, err := s.session(acc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// Authenticate проверяет сессионный токен и возвращает учётную запись.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	const op = "account.Authenticate"

	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	acc, err := s.repo.GetAccountByID(ctx, claims.AccountID())
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if acc.TokenVersion != claims.TokenVersion {
		return nil, ErrInvalidSession
	}
	return acc, nil
}

// Profile возвращает представление учётной записи и отмечает активность.
func (s *Service) Profile(ctx context.Context, acc *models.Account) (models.PublicAccount, error) {
	const op = "account.Profile"

	now := s.now()
	updated, err := s.repo.UpdateAccount(ctx, acc.ID, models.AccountUpdate{LastLoggedIn: &now}, storage.AnyVersion)
	if err != nil {
		s.log.Warn("failed to record activity", slog.String("op", op), sl.Err(err))
		return acc.Public(), nil
	}
	return updated.Public(), nil
}

// UpdateProfile меняет email и/или настройки. Пустой email и nil prefs оставляют поле без изменений.
func (s *Service) UpdateProfile(ctx context.Context, acc *models.Account, email string, prefs json.RawMessage) (models.PublicAccount, error) {
	const op = "account.UpdateProfile"

	var upd models.AccountUpdate
	if email = NormalizeEmail(email); email != "" && email != acc.Email {
		upd.Email = &email
	}
	if prefs != nil {
		var obj map[string]any
		if err := json.Unmarshal(prefs, &obj); err != nil || obj == nil {
			return models.PublicAccount{}, ErrInvalidPrefs
		}
		upd.Prefs = prefs
	}
	if upd.Email == nil && upd.Prefs == nil {
		return acc.Public(), nil
	}

	updated, err := s.repo.UpdateAccount(ctx, acc.ID, upd, storage.AnyVersion)
	if errors.Is(err, storage.ErrEmailExists) {
		return models.PublicAccount{}, ErrEmailInUse
	}
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}
	return updated.Public(), nil
}
