package models

import (
	"encoding/json"
	"time"
)

// AccountUpdate описывает набор изменяемых полей для атомарного обновления.
// nil означает «не менять»; указатель на пустую строку очищает поле.
type AccountUpdate struct {
	Email            *string
	Prefs            json.RawMessage
	PasswordHash     *string
	FederatedID      *string
	ResetToken       *string
	ResetTokenExpiry *time.Time
	ClearResetToken  bool
	Plan             *Plan
	CustomerID       *string
	SubscriptionID   *string
	SourceID         *string
	SourceLast4      *string
	SourceBrand      *string
	ReconciledAt     *time.Time
	LastLoggedIn     *time.Time
	BumpTokenVersion bool
}

// Apply применяет изменения к копии учётной записи и возвращает результат.
// Используется для проверки инвариантов до записи в хранилище.
func (u AccountUpdate) Apply(a Account) Account {
	if u.Email != nil {
		a.Email = *u.Email
	}
	if u.Prefs != nil {
		a.Prefs = u.Prefs
	}
	if u.PasswordHash != nil {
		a.PasswordHash = *u.PasswordHash
	}
	if u.FederatedID != nil {
		a.FederatedID = *u.FederatedID
	}
	if u.ClearResetToken {
		a.ResetToken = ""
		a.ResetTokenExpiry = nil
	} else if u.ResetToken != nil {
		a.ResetToken = *u.ResetToken
		a.ResetTokenExpiry = u.ResetTokenExpiry
	}
	if u.Plan != nil {
		a.Plan = *u.Plan
	}
	if u.CustomerID != nil {
		a.Billing.CustomerID = *u.CustomerID
	}
	if u.SubscriptionID != nil {
		a.Billing.SubscriptionID = *u.SubscriptionID
	}
	if u.SourceID != nil {
		a.Billing.SourceID = *u.SourceID
	}
	if u.SourceLast4 != nil {
		a.Billing.SourceLast4 = *u.SourceLast4
	}
	if u.SourceBrand != nil {
		a.Billing.SourceBrand = *u.SourceBrand
	}
	if u.ReconciledAt != nil {
		a.Billing.ReconciledAt = u.ReconciledAt
	}
	if u.LastLoggedIn != nil {
		a.LastLoggedIn = u.LastLoggedIn
	}
	if u.BumpTokenVersion {
		a.TokenVersion++
	}
	return a
}

// ChangesCredentials сообщает, затрагивает ли обновление учётные данные или профиль.
// Такие обновления увеличивают Account.Version.
func (u AccountUpdate) ChangesCredentials() bool {
	return u.Email != nil || u.Prefs != nil || u.PasswordHash != nil || u.FederatedID != nil ||
		u.ClearResetToken || u.ResetToken != nil || u.BumpTokenVersion
}

// ChangesBilling сообщает, затрагивает ли обновление тариф или платёжные данные.
// Такие обновления увеличивают Account.BillingVersion.
// ReconciledAt и LastLoggedIn служебные и версий не меняют.
func (u AccountUpdate) ChangesBilling() bool {
	return u.Plan != nil || u.CustomerID != nil || u.SubscriptionID != nil ||
		u.SourceID != nil || u.SourceLast4 != nil || u.SourceBrand != nil
}

// Ptr возвращает указатель на значение. Упрощает заполнение AccountUpdate.
func Ptr[T any](v T) *T {
	return &v
}
