package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/liquidity_layer/internal/app"
	"github.com/R3E-Network/liquidity_layer/internal/app/httpapi"
	"github.com/R3E-Network/liquidity_layer/internal/app/market"
	"github.com/R3E-Network/liquidity_layer/internal/app/messaging/relay"
	"github.com/R3E-Network/liquidity_layer/internal/app/metrics"
	"github.com/R3E-Network/liquidity_layer/internal/app/services/aggregator"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/liquidity_layer/internal/config"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	var gateway aggregator.Gateway
	if cfg.Relay.Endpoint != "" {
		gateway, err = relay.NewClient(httpClient, cfg.Relay.Endpoint, cfg.Relay.APIKey, cfg.Domain.Name, log)
		if err != nil {
			return nil, fmt.Errorf("configure relay client: %w", err)
		}
	} else {
		log.Warn("RELAY_ENDPOINT not set; running with in-process loopback routing")
	}

	var escrow aggregator.Escrow
	if cfg.Market.Endpoint != "" {
		escrow, err = market.NewClient(httpClient, cfg.Market.Endpoint, cfg.Market.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure market client: %w", err)
		}
	} else {
		log.Warn("MARKET_ENDPOINT not set; fulfilled items will not be released")
	}

	application, err := app.New(stores, app.Deps{
		Domain:  cfg.Domain.Name,
		Address: cfg.Domain.Address,
		Gateway: gateway,
		Escrow:  escrow,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application, httpapi.Auth{
		AdminSecret: cfg.Auth.AdminSecret,
		RelayKey:    cfg.Auth.RelayKey,
	}))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           metrics.InstrumentHandler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: httpServer,
		db:         db,
	}, nil
}

// Run starts the services and the HTTP server and blocks until the context
// is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// Shutdown gracefully stops the HTTP server, the services and the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_DSN not set; using in-memory stores")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	return app.Stores{Requests: store, Peers: store, GasBank: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
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
