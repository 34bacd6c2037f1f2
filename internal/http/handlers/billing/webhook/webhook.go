// Package webhook принимает события платёжной системы.
//
// Подпись проверяется по точным байтам тела, поэтому тело читается целиком
// и передаётся сервису без разбора.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/writingstreak/internal/http/response"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/paymentprovider"
	"github.com/magabrotheeeer/writingstreak/internal/services/billing"
)

// MaxBodyBytes ограничивает размер принимаемого события.
const MaxBodyBytes = 1 << 20

// Service описывает обработку вебхука.
type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Handler обрабатывает POST /billing/webhook.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Вебхук платёжной системы
// @Description Событие с неверной подписью отклоняется с 400 и не повторяется отправителем как временная ошибка.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Неверная подпись"
// @Failure 500 {object} response.ErrorResponse "Событие будет доставлено повторно"
// @Router /billing/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get(paymentprovider.SignatureHeader))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		response.Write(w, r, http.StatusBadRequest, response.Error(billing.ErrInvalidSignature.Error()))
		return
	case err != nil:
		log.Error("failed to handle webhook", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error(response.InternalError))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]bool{"received": true}))
}
