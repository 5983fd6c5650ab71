// Package runtime wires the gateway's dependencies and manages process
// lifecycle: configuration, storage, background services and the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/starkpay/gateway/internal/app/httpapi"
	"github.com/starkpay/gateway/internal/app/services/intents"
	"github.com/starkpay/gateway/internal/app/services/merchants"
	"github.com/starkpay/gateway/internal/app/services/pricing"
	"github.com/starkpay/gateway/internal/app/services/reconciler"
	"github.com/starkpay/gateway/internal/app/services/sweeper"
	"github.com/starkpay/gateway/internal/app/storage"
	"github.com/starkpay/gateway/internal/app/storage/memory"
	"github.com/starkpay/gateway/internal/app/storage/postgres"
	"github.com/starkpay/gateway/internal/app/system"
	"github.com/starkpay/gateway/internal/chain"
	"github.com/starkpay/gateway/internal/config"
	"github.com/starkpay/gateway/pkg/logger"
)

// Application wires core dependencies and manages service lifecycles.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	services   []system.Service
	db         *sqlx.DB
}

// NewApplication constructs an application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApplication(cfg)
}

func newApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	intentStore, merchantStore, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	chainClient, err := chain.NewClient(chain.Config{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.ChainTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("configure chain client: %w", err)
	}

	decoder, err := reconciler.NewDecoder(reconciler.DecoderConfig{
		ProcessorAddress: cfg.Chain.ProcessorAddress,
		EventSelector:    cfg.Chain.EventSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("configure event decoder: %w", err)
	}

	intentSvc := intents.New(intentStore, log.WithField("component", "intents"), cfg.IntentExpiry())
	merchantSvc := merchants.New(merchantStore, intentStore, log.WithField("component", "merchants"))

	reconcileSvc := reconciler.New(intentStore, merchantSvc, chainClient, decoder, reconciler.Config{
		Interval: cfg.ReconcileInterval(),
		RPCRate:  cfg.Reconciler.RPCRate,
		RPCBurst: cfg.Reconciler.RPCBurst,
	}, log.WithField("component", "reconciler"))

	sweepSvc := sweeper.New(intentStore, sweeper.Config{
		ExpiryInterval: cfg.SweepInterval(),
		PurgeSchedule:  cfg.Sweeper.PurgeSchedule,
		Retention:      cfg.Retention(),
	}, log.WithField("component", "sweeper"))

	pricingSvc, err := buildPricing(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure pricing: %w", err)
	}

	mux := httpapi.NewHandler(intentSvc, merchantSvc, pricingSvc)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: httpSrv,
		services:   []system.Service{reconcileSvc, sweepSvc},
		db:         db,
	}, nil
}

// Run starts background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	for _, svc := range a.services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops background services (letting in-flight sweeps finish) and
// the HTTP server.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, svc := range a.services {
		if err := svc.Stop(shutdownCtx); err != nil {
			a.log.WithError(err).Warnf("stopping %s", svc.Name())
		}
	}

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (storage.IntentStore, storage.MerchantStore, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database DSN configured, using in-memory store")
		store := memory.New()
		return store, store, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := postgres.Migrate(db.DB); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	store := postgres.New(db)
	return store, store, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func buildPricing(cfg *config.Config, log *logger.Logger) (*pricing.Service, error) {
	if !cfg.Pricing.Enabled {
		return nil, nil
	}

	fetcher, err := pricing.NewHTTPFetcher(cfg.Pricing.URLTemplate, cfg.Pricing.JSONPath, 10*time.Second)
	if err != nil {
		return nil, err
	}

	var cache pricing.Cache
	if cfg.Pricing.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Pricing.RedisAddr})
		cache = pricing.NewRedisCache(client)
	}

	return pricing.New(fetcher, cache, cfg.PricingTTL(), log.WithField("component", "pricing")), nil
}
