package api

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/writingstreak/internal/config"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/auth/federated"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/auth/reset"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/auth/resetrequest"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/auth/signup"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/billing/cancel"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/billing/paymentmethod"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/billing/upgrade"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/health"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/profile/read"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/profile/update"
	"github.com/magabrotheeeer/writingstreak/internal/http/middlewarectx"
	"github.com/magabrotheeeer/writingstreak/internal/metrics"
)

// AccountService объединяет операции, которые маршруты вызывают у сервиса учётных записей.
type AccountService interface {
	signup.Service
	login.Service
	federated.Service
	resetrequest.Service
	reset.Service
	read.Service
	update.Service
	middlewarectx.Authenticator
}

// BillingService объединяет операции сервиса подписок.
type BillingService interface {
	upgrade.Service
	paymentmethod.Service
	cancel.Service
	webhook.Service
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, accounts AccountService, billing BillingService, checks map[string]health.Pinger) {
	// Глобальные middleware
	r.Use(middleware.RequestID)
	if cfg.TrustForwardedFor {
		// без доверенного прокси лимит считается по адресу TCP соединения
		r.Use(middleware.RealIP)
	}
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		metrics.InstrumentHandler,
	)

	limiter := middlewarectx.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки с ограничением частоты
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware(logger))
			r.Post("/signup", signup.New(logger, accounts).ServeHTTP)
			r.Post("/login", login.New(logger, accounts).ServeHTTP)
			r.Post("/password/reset-request", resetrequest.New(logger, accounts).ServeHTTP)
			r.Post("/password/reset", reset.New(logger, accounts).ServeHTTP)
			r.Get("/auth/federated/callback", federated.New(logger, accounts, cfg.Federated).ServeHTTP)
		})

		// Группа с проверкой сессии
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.SessionMiddleware(accounts, logger))
			r.Get("/profile", read.New(logger, accounts).ServeHTTP)
			r.Put("/profile", update.New(logger, accounts).ServeHTTP)
			r.Post("/billing/upgrade", upgrade.New(logger, billing).ServeHTTP)
			r.Put("/billing/payment-method", paymentmethod.New(logger, billing).ServeHTTP)
			r.Post("/billing/cancel", cancel.New(logger, billing).ServeHTTP)
		})

		// Webhook endpoint (без аутентификации, проверяется подпись)
		r.Post("/billing/webhook", webhook.New(logger, billing).ServeHTTP)
	})

	r.Get("/health", health.New(logger, checks).ServeHTTP)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
