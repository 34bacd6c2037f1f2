// Package models содержит доменные структуры учётной записи Writing Streak,
// её платёжной проекции и уведомлений. Структуры используются в бизнес‑логике
// и при работе с хранилищем.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Plan задаёт тарифный план учётной записи.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Ошибки нарушения инвариантов учётной записи.
var (
	ErrNoAuthMethod          = errors.New("account has neither password nor federated identity")
	ErrPremiumWithoutSub     = errors.New("premium account without subscription id")
	ErrSubscriptionOnFree    = errors.New("free account with subscription id")
	ErrResetTokenWithoutTime = errors.New("reset token and expiry must be set together")
	ErrUnknownPlan           = errors.New("unknown plan")
)

// Billing кэширует состояние клиента в платёжной системе.
// Пустая строка означает отсутствие значения.
type Billing struct {
	CustomerID     string     // Идентификатор клиента в платёжной системе
	SubscriptionID string     // Идентификатор активной подписки
	SourceID       string     // Идентификатор платёжного метода по умолчанию
	SourceLast4    string     // Последние 4 цифры карты
	SourceBrand    string     // Бренд карты
	ReconciledAt   *time.Time // Время последней сверки с платёжной системой
}

// Account представляет учётную запись пользователя.
type Account struct {
	ID               string          // Уникальный идентификатор (uuid)
	Email            string          // Электронная почта, уникальна
	FederatedID      string          // Идентификатор внешнего провайдера, если есть
	PasswordHash     string          // bcrypt‑хэш пароля, если есть
	ResetToken       string          // Одноразовый токен сброса пароля
	ResetTokenExpiry *time.Time      // Срок действия токена сброса
	Plan             Plan            // Тарифный план
	Billing          Billing         // Платёжная проекция
	Source           string          // Канал, через который пришёл пользователь
	Prefs            json.RawMessage // Пользовательские настройки
	TokenVersion     int             // Версия сессионных токенов, увеличивается при сбросе пароля
	LastLoggedIn     *time.Time      // Время последней активности
	CreatedAt        time.Time
	Version          int64 // Версия учётных данных для оптимистичной блокировки
	BillingVersion   int64 // Версия тарифа и платёжных данных
}

// HasPassword сообщает, установлен ли у учётной записи пароль.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// IsFederated сообщает, привязана ли учётная запись к внешнему провайдеру.
func (a *Account) IsFederated() bool {
	return a.FederatedID != ""
}

// IsPremium сообщает, что у учётной записи платный план.
func (a *Account) IsPremium() bool {
	return a.Plan == PlanPremium
}

// Validate проверяет инварианты учётной записи перед сохранением.
func (a *Account) Validate() error {
	if !a.HasPassword() && !a.IsFederated() {
		return ErrNoAuthMethod
	}
	switch a.Plan {
	case PlanPremium:
		if a.Billing.SubscriptionID == "" {
			return ErrPremiumWithoutSub
		}
	case PlanFree:
		if a.Billing.SubscriptionID != "" {
			return ErrSubscriptionOnFree
		}
	default:
		return ErrUnknownPlan
	}
	if (a.ResetToken == "") != (a.ResetTokenExpiry == nil) {
		return ErrResetTokenWithoutTime
	}
	return nil
}

// Public возвращает представление учётной записи для клиента.
// Хэш пароля, токен сброса и идентификаторы платёжной системы не попадают в него.
func (a *Account) Public() PublicAccount {
	prefs := a.Prefs
	if len(prefs) == 0 {
		prefs = json.RawMessage("{}")
	}
	return PublicAccount{
		ID:           a.ID,
		Email:        a.Email,
		Plan:         a.Plan,
		Prefs:        prefs,
		Source:       a.Source,
		LastLoggedIn: a.LastLoggedIn,
		SourceLast4:  a.Billing.SourceLast4,
		SourceBrand:  a.Billing.SourceBrand,
		HasPassword:  a.HasPassword(),
		Federated:    a.IsFederated(),
	}
}

// PublicAccount отдаётся клиенту вместо учётной записи.
type PublicAccount struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Plan         Plan            `json:"plan"`
	Prefs        json.RawMessage `json:"prefs"`
	Source       string          `json:"source,omitempty"`
	LastLoggedIn *time.Time      `json:"lastLoggedIn,omitempty"`
	SourceLast4  string          `json:"sourceLast4,omitempty"`
	SourceBrand  string          `json:"sourceBrand,omitempty"`
	HasPassword  bool            `json:"hasPassword"`
	Federated    bool            `json:"federated"`
}

// ExternalIdentity содержит личность, подтверждённую внешним провайдером.
type ExternalIdentity struct {
	Subject string // Стабильный идентификатор у провайдера
	Email   string
}
