// Package signup реализует HTTP-обработчик регистрации по email и паролю.
package signup

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

// Request описывает входные данные для регистрации.
type Request struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Source   string `json:"source" validate:"max=255"`
}

// Service описывает регистрацию учётной записи.
type Service interface {
	Signup(ctx context.Context, email, password, source string) (*account.Session, error)
}

// Handler обрабатывает HTTP-запросы регистрации.
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
// @Summary Регистрация
// @Description Создаёт учётную запись на бесплатном плане и возвращает сессионный токен.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Email, пароль и источник"
// @Success 200 {object} response.Response{data=account.Session}
// @Failure 400 {object} response.ErrorResponse "Email занят"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /signup [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.signup"

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

	sess, err := h.service.Signup(r.Context(), req.Email, req.Password, req.Source)
	switch {
	case errors.Is(err, account.ErrEmailInUse), errors.Is(err, account.ErrMissingCredentials):
		log.Info("signup rejected", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("signup failed", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	log.Info("account signed up", slog.String("account_id", sess.Account.ID))
	render.JSON(w, r, response.OKWithData(sess))
}
