package middlewarectx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/services/account"
)

// Мок для Authenticator
type AuthenticatorMock struct {
	mock.Mock
}

func (m *AuthenticatorMock) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	args := m.Called(ctx, token)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestSessionMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		setupMock  func(m *AuthenticatorMock)
		wantStatus int
		wantNext   bool
	}{
		{
			name:   "valid token",
			header: "Bearer good",
			setupMock: func(m *AuthenticatorMock) {
				m.On("Authenticate", mock.Anything, "good").Return(&models.Account{ID: "acc-1"}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "missing header",
			setupMock:  func(m *AuthenticatorMock) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic auth",
			header:     "Basic Zm9vOmJhcg==",
			setupMock:  func(m *AuthenticatorMock) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "revoked token",
			header: "Bearer old",
			setupMock: func(m *AuthenticatorMock) {
				m.On("Authenticate", mock.Anything, "old").Return(nil, account.ErrInvalidSession).Once()
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "store failure",
			header: "Bearer good",
			setupMock: func(m *AuthenticatorMock) {
				m.On("Authenticate", mock.Anything, "good").Return(nil, errors.New("db down")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(AuthenticatorMock)
			tt.setupMock(m)

			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				acc, ok := AccountFromContext(r.Context())
				assert.True(t, ok)
				assert.Equal(t, "acc-1", acc.ID)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			SessionMiddleware(m, newNoopLogger())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantNext, called)
			m.AssertExpectations(t)
		})
	}
}

func TestAccountFromContext_Empty(t *testing.T) {
	_, ok := AccountFromContext(context.Background())
	assert.False(t, ok)
}
