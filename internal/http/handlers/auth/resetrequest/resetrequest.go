// Package resetrequest реализует запрос ссылки для сброса пароля.
//
// Ответ одинаков для известного и неизвестного email.
package resetrequest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/writingstreak/internal/http/response"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/services/account"
)

// Message отдаётся и для найденного, и для неизвестного email.
const Message = "Check your email!"

// Request описывает входные данные.
type Request struct {
	Email string `json:"email" validate:"required"`
}

// Service описывает выпуск токена сброса.
type Service interface {
	RequestPasswordReset(ctx context.Context, email string) error
}

// Handler обрабатывает запрос сброса пароля.
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
// @Summary Запрос сброса пароля
// @Description Отправляет на email ссылку для сброса пароля, действующую один час.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Email"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /password/reset-request [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.resetrequest"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	err := h.service.RequestPasswordReset(r.Context(), req.Email)
	switch {
	case errors.Is(err, account.ErrNotFound):
		log.Info("reset requested for unknown email", sl.Email(req.Email))
	case err != nil:
		log.Error("reset request failed", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]string{"message": Message}))
}
