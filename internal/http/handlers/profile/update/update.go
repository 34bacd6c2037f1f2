// Package update реализует изменение email и настроек учётной записи.
package update

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
	"github.com/magabrotheeeer/writingstreak/internal/services/account"
)

// Request содержит новые значения. Отсутствующее поле не меняется.
type Request struct {
	Email string          `json:"email" validate:"omitempty,email"`
	Prefs json.RawMessage `json:"prefs" swaggertype:"object"`
}

// Service описывает изменение профиля.
type Service interface {
	UpdateProfile(ctx context.Context, acc *models.Account, email string, prefs json.RawMessage) (models.PublicAccount, error)
}

// Handler обрабатывает PUT /profile.
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
// @Summary Изменение профиля
// @Description Меняет email и/или настройки (произвольный JSON-объект).
// @Tags Profile
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Email и настройки"
// @Success 200 {object} response.Response{data=models.PublicAccount}
// @Failure 400 {object} response.ErrorResponse "Email занят"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /profile [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.profile.update"

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

	view, err := h.service.UpdateProfile(r.Context(), acc, req.Email, req.Prefs)
	switch {
	case errors.Is(err, account.ErrEmailInUse):
		response.Write(w, r, http.StatusBadRequest, response.Error(err.Error()))
		return
	case errors.Is(err, account.ErrInvalidPrefs):
		response.Write(w, r, http.StatusUnprocessableEntity, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("failed to update profile", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	log.Info("profile updated", slog.String("account_id", acc.ID))
	render.JSON(w, r, response.OKWithData(view))
}
