// Package api собирает HTTP-сервис Writing Streak: хранилище, кэш, брокер,
// клиент платёжной системы, сервисы и маршруты.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/writingstreak/internal/cache"
	"github.com/magabrotheeeer/writingstreak/internal/config"
	"github.com/magabrotheeeer/writingstreak/internal/http/handlers/health"
	"github.com/magabrotheeeer/writingstreak/internal/lib/jwt"
	"github.com/magabrotheeeer/writingstreak/internal/lib/password"
	"github.com/magabrotheeeer/writingstreak/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
	"github.com/magabrotheeeer/writingstreak/internal/migrations"
	"github.com/magabrotheeeer/writingstreak/internal/notify"
	"github.com/magabrotheeeer/writingstreak/internal/paymentprovider"
	"github.com/magabrotheeeer/writingstreak/internal/services/account"
	"github.com/magabrotheeeer/writingstreak/internal/services/billing"
	"github.com/magabrotheeeer/writingstreak/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App обслуживает HTTP API.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *storage.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключается к зависимостям, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.db, err = storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(a.db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	a.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	a.conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	a.ch, err = rabbitmq.SetupChannel(a.conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		return nil, err
	}
	notifier := notify.New(rabbitmq.NewPublisher(a.ch), cfg.ContactEmail, logger)

	accounts := account.New(
		a.db,
		jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		password.NewHasher(0),
		notifier,
		account.Config{
			AdminEmail:    cfg.AdminEmail,
			PublicURL:     cfg.PublicURL,
			ResetTokenTTL: cfg.ResetTokenTTL,
		},
		logger,
	)

	billingService := billing.New(
		a.db,
		paymentprovider.NewClient(cfg.SecretKey, cfg.APIURL, cfg.Billing.Timeout, logger),
		paymentprovider.NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
		a.cache,
		notifier,
		billing.Config{
			PlanID:     cfg.PlanID,
			AdminEmail: cfg.AdminEmail,
			Timeout:    cfg.Billing.Timeout,
			LockTTL:    cfg.LockTTL,
			DedupTTL:   cfg.DedupTTL,
		},
		logger,
	)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, accounts, billingService, map[string]health.Pinger{
		"postgres": a.db,
		"redis":    a.cache,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP + cfg.Billing.Timeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		if serr := a.server.Shutdown(timeoutCtx); serr != nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}
	a.close()
	return err
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", sl.Err(err))
		}
	}
}
