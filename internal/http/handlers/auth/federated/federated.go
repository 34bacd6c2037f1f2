// Package federated реализует завершение входа через внешний провайдер.
//
// Рукопожатие с провайдером выполняет аутентифицирующий прокси перед сервисом,
// он же передаёт проверенную личность в заголовках. Токен сессии возвращается
// клиенту редиректом, а не в теле ответа.
package federated

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/writingstreak/internal/config"
	"github.com/magabrotheeeer/writingstreak/internal/http/response"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/models"
)

// Service описывает вход по внешней личности.
type Service interface {
	FederatedLogin(ctx context.Context, identity models.ExternalIdentity) (string, error)
}

// Handler обрабатывает возврат от провайдера.
type Handler struct {
	log     *slog.Logger
	service Service
	cfg     config.Federated
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, cfg config.Federated) *Handler {
	return &Handler{log: log, service: service, cfg: cfg}
}

// ServeHTTP godoc
// @Summary Вход через внешний провайдер
// @Description Находит или создаёт учётную запись по личности из заголовков прокси и перенаправляет на страницу входа с токеном.
// @Tags Auth
// @Success 302 "Редирект на страницу входа с token в query"
// @Failure 401 {object} response.ErrorResponse "Личность не передана"
// @Failure 404 {object} response.ErrorResponse "Вход через провайдер выключен"
// @Router /auth/federated/callback [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.federated"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if !h.cfg.TrustProxyHeaders {
		response.Write(w, r, http.StatusNotFound, response.Error("federated login is disabled"))
		return
	}

	identity := models.ExternalIdentity{
		Subject: r.Header.Get(h.cfg.SubjectHeader),
		Email:   r.Header.Get(h.cfg.EmailHeader),
	}
	if identity.Subject == "" {
		log.Warn("no identity in proxy headers")
		response.Write(w, r, http.StatusUnauthorized, response.Error("no verified identity"))
		return
	}

	token, err := h.service.FederatedLogin(r.Context(), identity)
	if err != nil {
		log.Error("federated login failed", sl.Err(err))
		http.Redirect(w, r, h.cfg.RedirectPath+"?error=federated", http.StatusFound)
		return
	}

	http.Redirect(w, r, h.cfg.RedirectPath+"?token="+url.QueryEscape(token), http.StatusFound)
}
