// Package upgrade реализует переход на платный план.
package upgrade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/writingstreak/internal/http/middlewarectx"
	"github.com/magabrotheeeer/writingstreak/internal/http/response"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/models"
	"github.com/magabrotheeeer/writingstreak/internal/services/billing"
)

// Request содержит платёжный токен, полученный клиентом от платёжной системы.
// Токен становится источником оплаты по умолчанию, даже если у клиента уже есть карта.
type Request struct {
	Token string `json:"token" validate:"required"`
}

// Service описывает переход на платный план.
type Service interface {
	Upgrade(ctx context.Context, accountID, paymentToken string) (models.PublicAccount, error)
}

// Handler обрабатывает POST /billing/upgrade.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Переход на premium
// @Tags Billing
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Платёжный токен"
// @Success 200 {object} response.Response{data=models.PublicAccount}
// @Failure 400 {object} response.ErrorResponse "Ошибка платёжной системы"
// @Failure 409 {object} response.ErrorResponse "Операция уже выполняется"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /billing/upgrade [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.upgrade"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	acc, ok := middlewarectx.AccountFromContext(r.Context())
	if !ok {
		response.Write(w, r, http.StatusUnauthorized, response.Error("unauthorized"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.Write(w, r, http.StatusUnprocessableEntity, response.ValidationError(verrs))
			return
		}
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	view, err := h.service.Upgrade(r.Context(), acc.ID, req.Token)
	if err != nil {
		log.Error("upgrade failed", slog.String("account_id", acc.ID), sl.Err(err))
		code, msg := billingError(err, billing.ErrUpgradeFailed)
		response.Write(w, r, code, response.Error(msg))
		return
	}
	render.JSON(w, r, response.OKWithData(view))
}

func billingError(err, failed error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrBusy):
		return http.StatusConflict, billing.ErrBusy.Error()
	case errors.Is(err, billing.ErrAlreadyPremium):
		return http.StatusBadRequest, billing.ErrAlreadyPremium.Error()
	case errors.Is(err, failed):
		return http.StatusBadRequest, failed.Error()
	default:
		return http.StatusInternalServerError, response.InternalError
	}
}
