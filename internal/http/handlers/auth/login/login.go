// Package login реализует HTTP-обработчик входа по email и паролю.
//
// Неизвестный email и неверный пароль дают одинаковый ответ.
package login

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

// Request описывает входные данные для авторизации.
type Request struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Service описывает вход по паролю.
type Service interface {
	Login(ctx context.Context, email, password string) (*account.Session, error)
}

// Handler обрабатывает HTTP-запросы для авторизации.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход
// @Description Проверяет email и пароль и возвращает сессионный токен.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Учетные данные"
// @Success 200 {object} response.Response{data=account.Session}
// @Failure 400 {object} response.ErrorResponse "Неверные учетные данные"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"

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

	sess, err := h.service.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrMismatch), errors.Is(err, account.ErrMissingCredentials):
		log.Info("login rejected", sl.Email(req.Email))
		response.Write(w, r, http.StatusBadRequest, response.Error(account.ErrMismatch.Error()))
		return
	case errors.Is(err, account.ErrFederatedOnly):
		response.Write(w, r, http.StatusBadRequest, response.Error("This account signs in with an external provider."))
		return
	case err != nil:
		log.Error("login failed", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	log.Info("login success", slog.String("account_id", sess.Account.ID))
	render.JSON(w, r, response.OKWithData(sess))
}
