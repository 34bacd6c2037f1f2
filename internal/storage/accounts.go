package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/writingstreak/internal/models"
)

const accountColumns = `id, email, federated_id, password_hash, reset_token, reset_token_expires_at,
	plan, billing_customer_id, billing_subscription_id, billing_source_id, billing_source_last4,
	billing_source_brand, billing_reconciled_at, source, prefs, token_version, last_logged_in,
	created_at, version, billing_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a                                    models.Account
		federatedID, passwordHash, resetTok  sql.NullString
		customerID, subscriptionID, sourceID sql.NullString
		sourceLast4, sourceBrand             sql.NullString
		resetExpiry, reconciledAt, lastLogin sql.NullTime
		plan                                 string
		prefs                                []byte
	)
	if err := row.Scan(&a.ID, &a.Email, &federatedID, &passwordHash, &resetTok, &resetExpiry,
		&plan, &customerID, &subscriptionID, &sourceID, &sourceLast4,
		&sourceBrand, &reconciledAt, &a.Source, &prefs, &a.TokenVersion, &lastLogin,
		&a.CreatedAt, &a.Version, &a.BillingVersion); err != nil {
		return nil, err
	}

	a.FederatedID = federatedID.String
	a.PasswordHash = passwordHash.String
	a.ResetToken = resetTok.String
	a.Plan = models.Plan(plan)
	a.Billing = models.Billing{
		CustomerID:     customerID.String,
		SubscriptionID: subscriptionID.String,
		SourceID:       sourceID.String,
		SourceLast4:    sourceLast4.String,
		SourceBrand:    sourceBrand.String,
	}
	a.Prefs = prefs
	if resetExpiry.Valid {
		a.ResetTokenExpiry = &resetExpiry.Time
	}
	if reconciledAt.Valid {
		a.Billing.ReconciledAt = &reconciledAt.Time
	}
	if lastLogin.Valid {
		a.LastLoggedIn = &lastLogin.Time
	}
	return &a, nil
}

// CreateAccount сохраняет новую учётную запись и возвращает её с присвоенным ID.
func (s *Storage) CreateAccount(ctx context.Context, acc models.Account) (*models.Account, error) {
	const op = "storage.CreateAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	prefs := []byte(acc.Prefs)
	if len(prefs) == 0 {
		prefs = []byte("{}")
	}
	if acc.Plan == "" {
		acc.Plan = models.PlanFree
	}

	query := `INSERT INTO accounts (email, federated_id, password_hash, plan, source, prefs, last_logged_in)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING ` + accountColumns
	created, err := scanAccount(s.DB.QueryRowContext(ctx, query,
		acc.Email, nullString(acc.FederatedID), nullString(acc.PasswordHash),
		string(acc.Plan), acc.Source, prefs, acc.LastLoggedIn))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapUniqueViolation(err))
	}
	return created, nil
}

func (s *Storage) getAccount(ctx context.Context, op, where string, args ...any) (*models.Account, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// GetAccountByID возвращает учётную запись по ID.
func (s *Storage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return s.getAccount(ctx, "storage.GetAccountByID", "id = $1", id)
}

// GetAccountByEmail возвращает учётную запись по email.
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.getAccount(ctx, "storage.GetAccountByEmail", "email = $1", email)
}

// GetAccountByFederatedID возвращает учётную запись по идентификатору внешнего провайдера.
func (s *Storage) GetAccountByFederatedID(ctx context.Context, federatedID string) (*models.Account, error) {
	return s.getAccount(ctx, "storage.GetAccountByFederatedID", "federated_id = $1", federatedID)
}

// GetAccountByCustomerID возвращает учётную запись по идентификатору клиента платёжной системы.
func (s *Storage) GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	return s.getAccount(ctx, "storage.GetAccountByCustomerID", "billing_customer_id = $1", customerID)
}

// GetAccountByResetToken возвращает учётную запись с действующим на момент now токеном сброса.
func (s *Storage) GetAccountByResetToken(ctx context.Context, token string, now time.Time) (*models.Account, error) {
	return s.getAccount(ctx, "storage.GetAccountByResetToken",
		"reset_token = $1 AND reset_token_expires_at > $2", token, now)
}

// UpdateAccount атомарно применяет набор изменений к учётной записи.
// Если expectedVersion не равен AnyVersion, запись обновляется только при совпадении
// Account.Version, иначе возвращается ErrVersionConflict.
// Версия растёт только при изменении учётных данных или профиля,
// billing_version только при изменении тарифа или платёжных данных.
func (s *Storage) UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate, expectedVersion int64) (*models.Account, error) {
	return s.updateAccount(ctx, "storage.UpdateAccount", id, upd, "version", expectedVersion)
}

// UpdateBilling работает как UpdateAccount, но сверяет Account.BillingVersion.
// Вход в систему и другие служебные записи не мешают такому обновлению.
func (s *Storage) UpdateBilling(ctx context.Context, id string, upd models.AccountUpdate, expectedBillingVersion int64) (*models.Account, error) {
	return s.updateAccount(ctx, "storage.UpdateBilling", id, upd, "billing_version", expectedBillingVersion)
}

func (s *Storage) updateAccount(ctx context.Context, op, id string, upd models.AccountUpdate,
	versionColumn string, expected int64) (*models.Account, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query, args := buildAccountUpdate(id, upd, versionColumn, expected)
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, query, args...))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, mapUniqueViolation(err))
	}
	if expected == AnyVersion {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}

	var exists bool
	if err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", op, ErrVersionConflict)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
}

func buildAccountUpdate(id string, upd models.AccountUpdate, versionColumn string, expected int64) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	setString := func(column string, value *string) {
		if value != nil {
			set(column, nullString(*value))
		}
	}

	setString("email", upd.Email)
	if upd.Prefs != nil {
		set("prefs", []byte(upd.Prefs))
	}
	setString("password_hash", upd.PasswordHash)
	setString("federated_id", upd.FederatedID)
	switch {
	case upd.ClearResetToken:
		sets = append(sets, "reset_token = NULL", "reset_token_expires_at = NULL")
	case upd.ResetToken != nil:
		set("reset_token", nullString(*upd.ResetToken))
		set("reset_token_expires_at", upd.ResetTokenExpiry)
	}
	if upd.Plan != nil {
		set("plan", string(*upd.Plan))
	}
	setString("billing_customer_id", upd.CustomerID)
	setString("billing_subscription_id", upd.SubscriptionID)
	setString("billing_source_id", upd.SourceID)
	setString("billing_source_last4", upd.SourceLast4)
	setString("billing_source_brand", upd.SourceBrand)
	if upd.ReconciledAt != nil {
		set("billing_reconciled_at", *upd.ReconciledAt)
	}
	if upd.LastLoggedIn != nil {
		set("last_logged_in", *upd.LastLoggedIn)
	}
	if upd.BumpTokenVersion {
		sets = append(sets, "token_version = token_version + 1")
	}
	if upd.ChangesCredentials() {
		sets = append(sets, "version = version + 1")
	}
	if upd.ChangesBilling() {
		sets = append(sets, "billing_version = billing_version + 1")
	}
	if len(sets) == 0 {
		// Пустое обновление только проверяет версию и возвращает запись.
		sets = append(sets, versionColumn+" = "+versionColumn)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if expected != AnyVersion {
		args = append(args, expected)
		where += fmt.Sprintf(" AND %s = $%d", versionColumn, len(args))
	}

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") +
		` WHERE ` + where + ` RETURNING ` + accountColumns
	return query, args
}
