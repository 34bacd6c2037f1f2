package signup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/services/account"
)

// Мок сервиса с методом Signup
type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Signup(ctx context.Context, email, password, source string) (*account.Session, error) {
	args := m.Called(ctx, email, password, source)
	sess, _ := args.Get(0).(*account.Session)
	return sess, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestSignupHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		setupMock      func(m *ServiceMock)
		wantStatusCode int
		wantError      string
		wantToken      string
	}{
		{
			name:        "valid signup",
			requestBody: Request{Email: "a@x.com", Password: "p1", Source: "newsletter"},
			setupMock: func(m *ServiceMock) {
				m.On("Signup", mock.Anything, "a@x.com", "p1", "newsletter").Return(&account.Session{
					Token:   "tok",
					Account: models.PublicAccount{ID: "acc-1", Email: "a@x.com", Plan: models.PlanFree},
				}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantToken:      "tok",
		},
		{
			name:           "invalid json body",
			requestBody:    "not a json",
			setupMock:      func(m *ServiceMock) {},
			wantStatusCode: http.StatusBadRequest,
			wantError:      "invalid request body",
		},
		{
			name:           "missing password",
			requestBody:    Request{Email: "a@x.com"},
			setupMock:      func(m *ServiceMock) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantError:      "field Password is a required field",
		},
		{
			name:        "email in use",
			requestBody: Request{Email: "a@x.com", Password: "p1"},
			setupMock: func(m *ServiceMock) {
				m.On("Signup", mock.Anything, "a@x.com", "p1", "").Return(nil, account.ErrEmailInUse).Once()
			},
			wantStatusCode: http.StatusBadRequest,
			wantError:      "Email is in use.",
		},
		{
			name:        "internal error is not leaked",
			requestBody: Request{Email: "a@x.com", Password: "p1"},
			setupMock: func(m *ServiceMock) {
				m.On("Signup", mock.Anything, "a@x.com", "p1", "").Return(nil, errors.New("pq: connection refused")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
			wantError:      "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(ServiceMock)
			tt.setupMock(m)
			handler := New(newNoopLogger(), m)

			var body []byte
			switch v := tt.requestBody.(type) {
			case string:
				body = []byte(v)
			default:
				var err error
				body, err = json.Marshal(v)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewReader(body))
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "reqid123"))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)

			var got map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			if tt.wantError != "" {
				assert.Equal(t, "Error", got["status"])
				assert.Equal(t, tt.wantError, got["error"])
			} else {
				assert.Equal(t, "OK", got["status"])
				data := got["data"].(map[string]any)
				assert.Equal(t, tt.wantToken, data["token"])
				assert.NotContains(t, data["account"], "passwordHash")
			}
			m.AssertExpectations(t)
		})
	}
}
