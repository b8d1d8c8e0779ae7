// Package main запускает HTTP-сервер движка заказов и планировщик подписок.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/order-lifecycle/internal/broker"
	"github.com/mmeshcher/order-lifecycle/internal/config"
	"github.com/mmeshcher/order-lifecycle/internal/handler"
	"github.com/mmeshcher/order-lifecycle/internal/metrics"
	"github.com/mmeshcher/order-lifecycle/internal/middleware"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
	"github.com/mmeshcher/order-lifecycle/internal/repository"
	"github.com/mmeshcher/order-lifecycle/internal/scheduler"
	"github.com/mmeshcher/order-lifecycle/internal/service"
	"github.com/mmeshcher/order-lifecycle/internal/storefront"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if cfg.StorefrontAddress == "" {
		sugar.Fatalw("configuration error", "error", "storefront address is required")
	}
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		sugar.Fatalw("configuration error", "error", "kafka brokers are required")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	payments, err := newPaymentRegistry(cfg)
	if err != nil {
		sugar.Fatalw("payment gateways initialization error", "error", err.Error())
	}

	notifier := broker.NewNotifier(broker.NewWriter(brokers, broker.DefaultNotificationsTopic))
	defer notifier.Close()
	events := broker.NewEventPublisher(broker.NewWriter(brokers, broker.DefaultEventsTopic))
	defer events.Close()

	store := storefront.NewClient(cfg.StorefrontAddress)
	m := metrics.New()

	svc := service.NewService(service.Deps{
		Orders:       repo,
		Cart:         store,
		Customers:    store,
		Directory:    store,
		Products:     store,
		Inventory:    repo,
		RewardPoints: repo,
		GiftCards:    repo,
		Notifier:     notifier,
		Events:       events,
		Payments:     payments,
		Metrics:      m,
		Logger:       logger,
	}, cfg.Settings)

	var locker scheduler.Locker
	if cfg.RedisAddress != "" {
		rdb := scheduler.NewRedisClient(cfg.RedisAddress)
		defer rdb.Close()
		locker = scheduler.NewRedisLocker(rdb, "orderengine")
	} else {
		sugar.Warn("redis address is not set, recurring payments are locked within this instance only")
		locker = scheduler.NewLocalLocker()
	}
	sched := scheduler.New(repo, svc, payments, logger, cfg.RecurringInterval, scheduler.WithLocker(locker))

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m.Handler(), handler.WithRecurringLocker(locker))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Очередные циклы подписок
	g.Go(func() error {
		sugar.Infow("starting recurring payments scheduler", "interval", cfg.RecurringInterval)
		return sched.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting order engine server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// newPaymentRegistry регистрирует офлайн-способы оплаты и Stripe, если задан ключ.
func newPaymentRegistry(cfg *config.Config) (*payment.Registry, error) {
	gateways := []payment.Gateway{
		payment.NewOfflineGateway(payment.OfflineConfig{
			SystemName: "Payments.CheckMoneyOrder",
			Mode:       payment.TransactModePending,
		}),
		payment.NewOfflineGateway(payment.OfflineConfig{
			SystemName: "Payments.Manual",
			Mode:       payment.TransactModeAuthorize,
			Recurring:  payment.RecurringManual,
		}),
	}

	if cfg.StripeAPIKey != "" {
		stripeGateway, err := payment.NewStripeGateway(payment.StripeConfig{APIKey: cfg.StripeAPIKey})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, stripeGateway)
	}

	return payment.NewRegistry(gateways, payment.WithCallTimeout(cfg.GatewayTimeout))
}
