package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticket-pass/config"
	gatehandlers "ticket-pass/handlers"
	"ticket-pass/internal/authority"
	"ticket-pass/internal/barcode"
	"ticket-pass/internal/clock"
	"ticket-pass/internal/envelope"
	"ticket-pass/internal/handlers"
	"ticket-pass/internal/poller"
	"ticket-pass/internal/protect"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/services"
	"ticket-pass/internal/signer"
	_ "ticket-pass/migrations"
	"ticket-pass/monitoring"
	"ticket-pass/security"
	rootservices "ticket-pass/services"
	"ticket-pass/utils"
)

// statusTTL bounds how long gate history is kept for a ticket.
const statusTTL = 72 * time.Hour

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Token pipeline
	sign, verifier, err := newSigner(cfg)
	if err != nil {
		return err
	}
	realClock := clock.Real()
	protector := protect.New(cfg.KeyDerivationSecret)
	generator, err := rotating.NewGenerator(cfg.WindowWidth, realClock)
	if err != nil {
		return err
	}
	encoder, err := barcode.NewEncoder(cfg.BarcodePrefix)
	if err != nil {
		return err
	}
	sealer, err := newSealer(cfg)
	if err != nil {
		return err
	}

	// Status polling and metrics
	authorityClient, err := authority.NewClient(cfg.AuthorityURL, "issuer",
		authority.WithHTTPClient(&http.Client{Timeout: cfg.AuthorityTimeout}))
	if err != nil {
		return err
	}
	var monitor *monitoring.Monitor
	manager := poller.NewManager(authorityClient, realClock, poller.Cadence{
		Base:          cfg.PollBaseInterval,
		Fast:          cfg.PollFastInterval,
		Slow:          cfg.PollSlowInterval,
		DegradedAfter: cfg.PollDegradedAfter,
		MaxFailures:   cfg.PollMaxFailures,
		IdleAfter:     cfg.PollIdleAfter,
	}, func(u poller.Update) { monitor.TrackPoll(u) }, slog.Default())
	defer manager.StopAll()
	monitor = monitoring.NewMonitor(ctx, redisClient, manager.Len)

	// Initialize services
	registry := services.NewPocketBaseRegistry(app, sealer)
	issuerService := services.NewIssuerService(registry, envelope.NewIssuer(generator, sign, protector), encoder, monitor, slog.Default())
	acceptor, err := envelope.NewAcceptor(cfg.WindowWidth, int64(cfg.ToleranceWindows), verifier, protector, realClock)
	if err != nil {
		return err
	}
	gateService, err := services.NewGateService(services.GateConfig{
		Registry: registry,
		Acceptor: acceptor,
		Encoder:  encoder,
		Statuses: rootservices.NewStatusStore(redisClient, statusTTL),
		Replay:   rootservices.NewReplayGuard(redisClient, cfg.WindowWidth, cfg.ToleranceWindows),
		Metrics:  monitor,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	// Initialize handlers
	passHandler := handlers.NewPassHandler(ctx, issuerService, manager)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: !cfg.IsProduction(),
	})

	// Gate API
	gateServer := newGateServer(cfg, gatehandlers.NewGateHandler(gateService, slog.Default()),
		security.NewRateLimiter(redisClient, cfg.GateRateLimit, time.Second))
	go serve(gateServer, "gate")

	if cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go serve(&http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "metrics")
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := gateServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Gate server shutdown failed", "error", err)
		}
	}()

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		handlers.RegisterRoutes(e.Router, passHandler)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		slog.Info("Issuer routes registered", "window", cfg.WindowWidth, "tolerance", cfg.ToleranceWindows, "signing", cfg.SigningMode)
		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		return e.Next()
	})

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve", "--http=0.0.0.0:"+cfg.Port)
	}

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func newSigner(cfg *config.Config) (signer.Signer, signer.Verifier, error) {
	if cfg.SigningMode == config.SigningModeEd25519 {
		private, err := signer.LoadPrivateKey(cfg.SigningKeyDir)
		if err != nil {
			return nil, nil, err
		}
		s, err := signer.NewEd25519Signer(private)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Verifier(), nil
	}

	mac, err := signer.NewMACSigner(cfg.SigningSecret)
	if err != nil {
		return nil, nil, err
	}
	return mac, mac, nil
}

func newSealer(cfg *config.Config) (services.SecretSealer, error) {
	if cfg.SecretSealIdentity != "" {
		return services.NewAgeSealer(cfg.SecretSealIdentity)
	}
	slog.Warn("SECRET_SEAL_IDENTITY not set, base secrets are stored unsealed")
	return services.PlainSealer{}, nil
}

func newGateServer(cfg *config.Config, h *gatehandlers.GateHandler, limiter *security.RateLimiter) *http.Server {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("gate request", "uri", v.URI, "status", v.Status, "gate_id", c.Request().Header.Get(security.GateIDHeader))
			return nil
		},
	}))
	h.RegisterRoutes(e, limiter)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	return &http.Server{
		Addr:              ":" + cfg.GatePort,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serve(server *http.Server, name string) {
	slog.Info("Listening", "server", name, "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server stopped", "server", name, "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
