package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/salon-voice-gateway/internal/config"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/telephony"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Twilio Media Streams gateway",
	Long: `Serve accepts Twilio Media Streams connections on /streams/twilio and
exposes /health, /ready and /metrics.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_backend", cfg.STTBackend).
		Str("tts_backend", cfg.TTSBackend).
		Str("intent_backend", cfg.IntentBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Salon voice gateway starting")

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	warmCtx, cancel := context.WithTimeout(ctx, 2*config.Millis(cfg.TTSTimeout))
	if err := p.warm(warmCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to warm TTS cache, continuing without it")
	}
	cancel()

	mux := http.NewServeMux()
	mux.Handle("/streams/twilio", telephony.NewStreamHandler(p.sessions, telephony.StreamConfig{}, logger))
	mux.HandleFunc("/health", observability.HealthCheckHandler(p.sessions.ActiveCalls))
	mux.HandleFunc("/ready", observability.ReadinessHandler(p.checks()...))
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.sessions.Run(gctx)
	})
	g.Go(func() error {
		endpoint := fmt.Sprintf("ws://localhost:%s/streams/twilio", cfg.Port)
		if cfg.VoiceGatewayURL != "" {
			endpoint = cfg.VoiceGatewayURL + "/streams/twilio"
		}
		logger.Info().Str("port", cfg.Port).Str("endpoint", endpoint).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		p.sessions.Shutdown("shutdown")
		if drainErr := p.sessions.Drain(shutdownCtx); drainErr != nil {
			logger.Warn().Err(drainErr).Msg("Calls still finishing at shutdown deadline")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server exited gracefully")
	return nil
}
