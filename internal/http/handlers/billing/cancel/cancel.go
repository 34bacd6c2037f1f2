// Package cancel реализует отмену подписки.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/writingstreak/internal/http/middlewarectx"
	"github.com/magabrotheeeer/writingstreak/internal/http/response"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/services/billing"
)

// Service описывает отмену подписки.
type Service interface {
	Cancel(ctx context.Context, accountID string) (models.PublicAccount, error)
}

// Handler обрабатывает POST /billing/cancel.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отмена подписки
// @Tags Billing
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.PublicAccount}
// @Failure 400 {object} response.ErrorResponse "Нет подписки или ошибка платёжной системы"
// @Failure 409 {object} response.ErrorResponse "Операция уже выполняется"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /billing/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.cancel"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	acc, ok := middlewarectx.AccountFromContext(r.Context())
	if !ok {
		response.Write(w, r, http.StatusUnauthorized, response.Error("unauthorized"))
		return
	}

	view, err := h.service.Cancel(r.Context(), acc.ID)
	switch {
	case errors.Is(err, billing.ErrNoActiveSubscription):
		response.Write(w, r, http.StatusBadRequest, response.Error(billing.ErrNoActiveSubscription.Error()))
		return
	case errors.Is(err, billing.ErrBusy):
		response.Write(w, r, http.StatusConflict, response.Error(billing.ErrBusy.Error()))
		return
	case errors.Is(err, billing.ErrCancelFailed):
		log.Error("cancel failed", slog.String("account_id", acc.ID), sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error(billing.ErrCancelFailed.Error()))
		return
	case err != nil:
		log.Error("cancel failed", slog.String("account_id", acc.ID), sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	log.Info("subscription cancelled", slog.String("account_id", acc.ID))
	render.JSON(w, r, response.OKWithData(view))
}
