// Package paymentmethod реализует замену платёжного метода.
package paymentmethod

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

// Request содержит платёжный токен новой карты.
type Request struct {
	Token string `json:"token" validate:"required"`
}

// Service описывает замену платёжного метода.
type Service interface {
	UpdatePaymentMethod(ctx context.Context, accountID, paymentToken string) (models.PublicAccount, error)
}

// Handler обрабатывает PUT /billing/payment-method.
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
// @Summary Замена платёжного метода
// @Tags Billing
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Платёжный токен"
// @Success 200 {object} response.Response{data=models.PublicAccount}
// @Failure 400 {object} response.ErrorResponse "Нет клиента или ошибка платёжной системы"
// @Failure 409 {object} response.ErrorResponse "Операция уже выполняется"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /billing/payment-method [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.paymentmethod"

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

	view, err := h.service.UpdatePaymentMethod(r.Context(), acc.ID, req.Token)
	switch {
	case errors.Is(err, billing.ErrNoActiveCustomer):
		response.Write(w, r, http.StatusBadRequest, response.Error(billing.ErrNoActiveCustomer.Error()))
		return
	case errors.Is(err, billing.ErrBusy):
		response.Write(w, r, http.StatusConflict, response.Error(billing.ErrBusy.Error()))
		return
	case errors.Is(err, billing.ErrPaymentUpdateFailed):
		log.Error("payment method update failed", slog.String("account_id", acc.ID), sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error(billing.ErrPaymentUpdateFailed.Error()))
		return
	case err != nil:
		log.Error("payment method update failed", slog.String("account_id", acc.ID), sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}
	render.JSON(w, r, response.OKWithData(view))
}
