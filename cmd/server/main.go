package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/callbridge/internal/call"
	"github.com/lexiqai/callbridge/internal/config"
	"github.com/lexiqai/callbridge/internal/notify"
	"github.com/lexiqai/callbridge/internal/observability"
	"github.com/lexiqai/callbridge/internal/reservation"
	"github.com/lexiqai/callbridge/internal/telephony"
	"github.com/lexiqai/callbridge/internal/tenantconfig"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("realtime_url", cfg.RealtimeURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Call bridge service starting")

	reservationStore, err := reservation.Open(cfg.ReservationsDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open reservation store")
	}
	defer reservationStore.Close()

	if err := os.MkdirAll(cfg.EventLogDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create event log directory")
	}

	tenantStore := tenantconfig.NewHTTPStore(
		cfg.TenantStoreURL,
		time.Duration(cfg.TenantStoreTimeoutSeconds)*time.Second,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		cfg.RetryMaxAttempts,
		time.Duration(cfg.RetryInitialBackoff)*time.Millisecond,
	)
	tenantLoader := tenantconfig.NewLoader(tenantStore, cfg.PromptFilePath)

	dispatcher := notify.NewDispatcher(newEmailSender(cfg), newSlackSender(cfg))
	finalizer := reservation.NewFinalizer(reservationStore, dispatcher)

	deps := call.Deps{
		Config:           cfg,
		TenantLoader:     tenantLoader,
		Finalizer:        finalizer,
		ReservationStore: reservationStore,
		EventLogDir:      cfg.EventLogDir,
		Registry:         call.NewRegistry(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/carrier", handleCarrierStream(deps))
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	realtimeCheck := func(ctx context.Context) (bool, error) {
		if cfg.RealtimeAPIKey == "" {
			return false, fmt.Errorf("realtime API key not configured")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(realtimeCheck, tenantStore.HealthCheck, reservationStore.HealthCheck))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		endpoint := fmt.Sprintf("ws://localhost:%s/streams/carrier", cfg.Port)
		if cfg.PublicBaseURL != "" {
			endpoint = fmt.Sprintf("wss://%s/streams/carrier", cfg.PublicBaseURL)
		}
		logger.Info().Str("port", cfg.Port).Str("endpoint", endpoint).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// handleCarrierStream upgrades an inbound carrier media-stream request and
// drives its Call for the lifetime of the connection.
func handleCarrierStream(deps call.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := telephony.Upgrade(w, r)
		if err != nil {
			observability.GetLogger().Error().Err(err).Msg("carrier websocket upgrade failed")
			return
		}

		c := call.New(deps, conn)
		c.Run()
	}
}

func newEmailSender(cfg *config.Config) *notify.EmailSender {
	if cfg.SendgridAPIKey == "" || cfg.NotifyFromEmail == "" {
		return nil
	}
	return notify.NewEmailSender(cfg.SendgridAPIKey, cfg.NotifyFromEmail)
}

func newSlackSender(cfg *config.Config) *notify.SlackSender {
	if cfg.SlackBotToken == "" {
		return nil
	}
	return notify.NewSlackSender(cfg.SlackBotToken, cfg.SlackDefaultChannel)
}
