// Package reset реализует смену пароля по токену сброса.
package reset

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

// Request описывает входные данные.
type Request struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Service описывает смену пароля по токену.
type Service interface {
	ResetPassword(ctx context.Context, token, newPassword string) (*account.Session, error)
}

// Handler обрабатывает смену пароля.
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
// @Summary Сброс пароля
// @Description Меняет пароль по токену сброса, отзывает прежние сессии и возвращает новую.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Токен и новый пароль"
// @Success 200 {object} response.Response{data=account.Session}
// @Failure 400 {object} response.ErrorResponse "Токен неверен или истёк"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /password/reset [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.reset"

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

	sess, err := h.service.ResetPassword(r.Context(), req.Token, req.Password)
	switch {
	case errors.Is(err, account.ErrInvalidOrExpiredToken), errors.Is(err, account.ErrMissingCredentials):
		log.Info("password reset rejected", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("password reset failed", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	render.JSON(w, r, response.OKWithData(sess))
}
