// Package middlewarectx содержит HTTP middleware: проверку сессионного токена
// и ограничение частоты запросов.
//
// SessionMiddleware проверяет токен из заголовка Authorization и кладёт
// учётную запись в контекст запроса. При ошибке возвращает 401.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/writingstreak/internal/http/response"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/services/account"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// AccountKey хранит учётную запись в контексте.
const AccountKey Key = "account"

// Authenticator проверяет сессионный токен.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Account, error)
}

// WithAccount возвращает контекст с учётной записью.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, AccountKey, acc)
}

// AccountFromContext возвращает учётную запись, положенную SessionMiddleware.
func AccountFromContext(ctx context.Context) (*models.Account, bool) {
	acc, ok := ctx.Value(AccountKey).(*models.Account)
	return acc, ok && acc != nil
}

// SessionMiddleware возвращает middleware, который проверяет Bearer‑токен.
func SessionMiddleware(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Session"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Debug("missing or invalid authorization header")
				response.Write(w, r, http.StatusUnauthorized, response.Error("missing or invalid authorization header"))
				return
			}

			acc, err := auth.Authenticate(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			switch {
			case errors.Is(err, account.ErrInvalidSession):
				log.Info("session rejected")
				response.Write(w, r, http.StatusUnauthorized, response.Error("invalid or expired token"))
				return
			case err != nil:
				log.Error("failed to authenticate", sl.Err(err))
				response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}
