// Package app wires the validation engine to its collaborators and serves it
// over HTTP to a local reader frontend.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"lcpcli/internal/config"
	"lcpcli/internal/crl"
	"lcpcli/internal/device"
	"lcpcli/internal/infrastructure"
	"lcpcli/internal/lcpclient"
	"lcpcli/internal/license"
	"lcpcli/internal/network"
	"lcpcli/internal/passphrases"
	handlers "lcpcli/internal/transport/http"
	ws "lcpcli/internal/websocket"
)

// Application is the dependency container of the service
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	WebSocketHub  *ws.Hub

	client      *lcpclient.Client
	fetcher     *network.Fetcher
	crlService  *crl.Service
	deviceSvc   *device.Service
	store       *passphrases.Store
	passphrases *passphrases.Service
	metrics     *license.ValidationMetrics
	production  bool
}

// NewApplication loads configuration and builds every collaborator
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion))

	providers, err := infrastructure.InitializeOTel(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	metrics, err := license.NewValidationMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation metrics: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	client := lcpclient.New()
	fetcher := network.NewFetcher(cfg.Network, logger)
	crlService := crl.NewService(cfg.CRL, fetcher, logger)

	deviceSvc, err := device.NewService(cfg.Device, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize device service: %w", err)
	}

	store, err := passphrases.NewStore(cfg.Passphrases.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open passphrase store: %w", err)
	}
	passphraseSvc, err := passphrases.NewService(store, client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize passphrase service: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		WebSocketHub:  ws.NewHub(logger),
		client:        client,
		fetcher:       fetcher,
		crlService:    crlService,
		deviceSvc:     deviceSvc,
		store:         store,
		passphrases:   passphraseSvc,
		metrics:       metrics,
	}

	// Resolve the production flag once at startup; every engine built by
	// NewEngine inherits it through the same configuration.
	app.production = license.New(license.Config{
		Client:     client,
		Production: cfg.Profile.Production,
		Logger:     logger,
	}).Production()

	app.Router = app.buildRouter()
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// NewEngine builds a fresh validation engine for one unlock attempt. The
// terminal outcome is mirrored to the websocket hub.
func (a *Application) NewEngine(auth license.Authentication, allowUserInteraction bool, sender interface{}) *license.Validation {
	engine := license.New(license.Config{
		Client:               a.client,
		CRL:                  a.crlService,
		Device:               a.deviceSvc,
		Network:              a.fetcher,
		Passphrases:          a.passphrases,
		Authentication:       auth,
		AllowUserInteraction: allowUserInteraction,
		Sender:               sender,
		FetchTimeout:         a.Config.Network.FetchTimeout,
		Production:           &a.production,
		Logger:               a.Logger,
		Metrics:              a.metrics,
		OnLicenseValidated: func(doc *license.LicenseDocument) {
			a.Logger.Info("License validated",
				slog.String("license_id", doc.ID),
				slog.String("provider", doc.Provider))
		},
	})

	engine.Observe(license.PolicyAlways, func(documents *license.ValidatedDocuments, err error) {
		a.broadcastOutcome(documents, err)
	})

	return engine
}

// Status implements the transport layer's StatusProvider
func (a *Application) Status() handlers.StatusInfo {
	return handlers.StatusInfo{
		Production:        a.production,
		DeviceID:          a.deviceSvc.ID(),
		DeviceName:        a.deviceSvc.Name(),
		StoredPassphrases: a.store.Count(),
	}
}

func (a *Application) broadcastOutcome(documents *license.ValidatedDocuments, err error) {
	ctx := context.Background()
	switch {
	case err != nil:
		a.WebSocketHub.Broadcast(ctx, ws.TypeError, map[string]interface{}{
			"error": err.Error(),
		})
	case documents == nil:
		a.WebSocketHub.Broadcast(ctx, ws.TypeValidationResult, map[string]interface{}{
			"cancelled": true,
		})
	default:
		payload := map[string]interface{}{
			"license_id": documents.License.ID,
			"usable":     documents.Context != nil,
		}
		if documents.StatusError != nil {
			payload["status_error"] = documents.StatusError.MessageID()
		}
		a.WebSocketHub.Broadcast(ctx, ws.TypeValidationResult, payload)
	}
}

// buildRouter assembles the HTTP surface
func (a *Application) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)

	var limiter *rate.Limiter
	if a.Config.Server.RateLimit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(a.Config.Server.RateLimit.RPS), a.Config.Server.RateLimit.Burst)
	}

	licenseHandler := handlers.NewLicenseHandler(a.NewEngine, a, limiter, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", licenseHandler.Routes())
		r.Get("/health", handlers.HealthHandler)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWS(a.WebSocketHub, w, req, a.Logger)
	})

	return r
}

// traceMiddleware seeds every request context with a trace id
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := infrastructure.EnsureTraceID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Run starts the server and blocks until shutdown
func (a *Application) Run() error {
	a.WebSocketHub.Start()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		a.Logger.Info("Shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	a.WebSocketHub.Stop()

	if err := a.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		a.Logger.Warn("Observability shutdown failed", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.Warn("Log file close failed", slog.String("error", err.Error()))
	}

	a.Logger.Info("Shutdown complete")
	return nil
}
