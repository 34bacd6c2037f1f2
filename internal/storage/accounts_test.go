package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "email", "federated_id", "password_hash", "reset_token", "reset_token_expires_at",
	"plan", "billing_customer_id", "billing_subscription_id", "billing_source_id", "billing_source_last4",
	"billing_source_brand", "billing_reconciled_at", "source", "prefs", "token_version", "last_logged_in",
	"created_at", "version", "billing_version"}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Storage{DB: db}, mock
}

func accountRow(id, email string, version int64) *sqlmock.Rows {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(columns).AddRow(
		id, email, nil, "hash", nil, nil,
		"free", nil, nil, nil, nil,
		nil, nil, "landing", []byte(`{"goal":500}`), int64(0), nil,
		created, version, int64(1),
	)
}

func TestStorage_CreateAccount(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO accounts (email, federated_id, password_hash, plan, source, prefs, last_logged_in)`)).
		WithArgs("a@x.com", nil, "hash", "free", "landing", []byte("{}"), sqlmock.AnyArg()).
		WillReturnRows(accountRow("id-1", "a@x.com", 1))

	got, err := s.CreateAccount(context.Background(), models.Account{
		Email:        "a@x.com",
		PasswordHash: "hash",
		Source:       "landing",
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, models.PlanFree, got.Plan)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Empty(t, got.FederatedID)
	assert.JSONEq(t, `{"goal":500}`, string(got.Prefs))
	assert.Equal(t, int64(1), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_CreateAccount_EmailExists(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO accounts`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	_, err := s.CreateAccount(context.Background(), models.Account{Email: "a@x.com", PasswordHash: "hash"})
	require.ErrorIs(t, err, ErrEmailExists)
}

func TestStorage_GetAccount(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		call    func(s *Storage) (*models.Account, error)
		query   string
		args    []driver.Value
		rows    *sqlmock.Rows
		wantErr error
	}{
		{
			name:  "by id",
			call:  func(s *Storage) (*models.Account, error) { return s.GetAccountByID(context.Background(), "id-1") },
			query: `FROM accounts WHERE id = $1`,
			args:  []driver.Value{"id-1"},
			rows:  accountRow("id-1", "a@x.com", 3),
		},
		{
			name:  "by email",
			call:  func(s *Storage) (*models.Account, error) { return s.GetAccountByEmail(context.Background(), "a@x.com") },
			query: `FROM accounts WHERE email = $1`,
			args:  []driver.Value{"a@x.com"},
			rows:  accountRow("id-1", "a@x.com", 3),
		},
		{
			name: "by customer id",
			call: func(s *Storage) (*models.Account, error) {
				return s.GetAccountByCustomerID(context.Background(), "cus_1")
			},
			query: `FROM accounts WHERE billing_customer_id = $1`,
			args:  []driver.Value{"cus_1"},
			rows:  accountRow("id-1", "a@x.com", 3),
		},
		{
			name: "by reset token checks expiry",
			call: func(s *Storage) (*models.Account, error) {
				return s.GetAccountByResetToken(context.Background(), "tok", now)
			},
			query: `FROM accounts WHERE reset_token = $1 AND reset_token_expires_at > $2`,
			args:  []driver.Value{"tok", now},
			rows:  accountRow("id-1", "a@x.com", 3),
		},
		{
			name: "not found",
			call: func(s *Storage) (*models.Account, error) {
				return s.GetAccountByFederatedID(context.Background(), "google-1")
			},
			query:   `FROM accounts WHERE federated_id = $1`,
			args:    []driver.Value{"google-1"},
			rows:    sqlmock.NewRows(columns),
			wantErr: ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).WithArgs(tt.args...).WillReturnRows(tt.rows)

			got, err := tt.call(s)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "id-1", got.ID)
			assert.Equal(t, int64(3), got.Version)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBuildAccountUpdate(t *testing.T) {
	logged := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	query, args := buildAccountUpdate("id-1", models.AccountUpdate{
		PasswordHash:     models.Ptr("newhash"),
		ClearResetToken:  true,
		LastLoggedIn:     &logged,
		BumpTokenVersion: true,
	}, "version", 4)

	assert.Equal(t,
		`UPDATE accounts SET password_hash = $1, reset_token = NULL, reset_token_expires_at = NULL, `+
			`last_logged_in = $2, token_version = token_version + 1, version = version + 1 `+
			`WHERE id = $3 AND version = $4 RETURNING `+accountColumns,
		query)
	assert.Equal(t, []any{"newhash", logged, "id-1", int64(4)}, args)
}

func TestBuildAccountUpdate_ClearsBillingFields(t *testing.T) {
	query, args := buildAccountUpdate("id-1", models.AccountUpdate{
		Plan:           models.Ptr(models.PlanFree),
		SubscriptionID: models.Ptr(""),
	}, "billing_version", AnyVersion)

	assert.Contains(t, query, "plan = $1, billing_subscription_id = $2, billing_version = billing_version + 1 WHERE id = $3 RETURNING")
	assert.NotContains(t, query, "version = version + 1")
	assert.NotContains(t, query, "AND billing_version")
	assert.Equal(t, []any{"free", nil, "id-1"}, args)
}

func TestBuildAccountUpdate_Versions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		upd       models.AccountUpdate
		column    string
		wantSet   string
		wantWhere string
	}{
		{
			name:      "last login keeps both versions",
			upd:       models.AccountUpdate{LastLoggedIn: &now},
			column:    "version",
			wantSet:   "SET last_logged_in = $1 WHERE",
			wantWhere: "WHERE id = $2 AND version = $3",
		},
		{
			name:      "reconciliation keeps both versions",
			upd:       models.AccountUpdate{ReconciledAt: &now},
			column:    "billing_version",
			wantSet:   "SET billing_reconciled_at = $1 WHERE",
			wantWhere: "WHERE id = $2 AND billing_version = $3",
		},
		{
			name:      "billing change bumps billing version",
			upd:       models.AccountUpdate{CustomerID: models.Ptr("cus_1"), ReconciledAt: &now},
			column:    "billing_version",
			wantSet:   "SET billing_customer_id = $1, billing_reconciled_at = $2, billing_version = billing_version + 1 WHERE",
			wantWhere: "WHERE id = $3 AND billing_version = $4",
		},
		{
			name:      "empty update only checks version",
			upd:       models.AccountUpdate{},
			column:    "billing_version",
			wantSet:   "SET billing_version = billing_version WHERE",
			wantWhere: "WHERE id = $1 AND billing_version = $2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, _ := buildAccountUpdate("id-1", tt.upd, tt.column, 7)
			assert.Contains(t, query, tt.wantSet)
			assert.Contains(t, query, tt.wantWhere)
		})
	}
}

func TestStorage_UpdateAccount(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET email = $1, version = version + 1 WHERE id = $2 AND version = $3`)).
			WithArgs("b@x.com", "id-1", int64(1)).
			WillReturnRows(accountRow("id-1", "b@x.com", 2))

		got, err := s.UpdateAccount(context.Background(), "id-1", models.AccountUpdate{Email: models.Ptr("b@x.com")}, 1)
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", got.Email)
		assert.Equal(t, int64(2), got.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET`)).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("id-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := s.UpdateAccount(context.Background(), "id-1", models.AccountUpdate{Email: models.Ptr("b@x.com")}, 1)
		require.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("missing account", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET`)).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("id-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.UpdateAccount(context.Background(), "id-1", models.AccountUpdate{Email: models.Ptr("b@x.com")}, 1)
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("email taken", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET`)).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

		_, err := s.UpdateAccount(context.Background(), "id-1", models.AccountUpdate{Email: models.Ptr("b@x.com")}, AnyVersion)
		require.ErrorIs(t, err, ErrEmailExists)
	})

	t.Run("billing update checks billing version", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET plan = $1, billing_version = billing_version + 1 WHERE id = $2 AND billing_version = $3`)).
			WithArgs("premium", "id-1", int64(1)).
			WillReturnRows(accountRow("id-1", "a@x.com", 5))

		got, err := s.UpdateBilling(context.Background(), "id-1", models.AccountUpdate{Plan: models.Ptr(models.PlanPremium)}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("billing version conflict", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`AND billing_version = $3`)).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("id-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := s.UpdateBilling(context.Background(), "id-1", models.AccountUpdate{Plan: models.Ptr(models.PlanPremium)}, 1)
		require.ErrorIs(t, err, ErrVersionConflict)
		assert.Contains(t, err.Error(), "storage.UpdateBilling")
	})

	t.Run("cancelled context", func(t *testing.T) {
		s, _ := newMockStorage(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.UpdateAccount(ctx, "id-1", models.AccountUpdate{}, AnyVersion)
		require.ErrorIs(t, err, context.Canceled)
	})
}
