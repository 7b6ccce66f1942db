package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lntap/actuator"
	"lntap/admin"
	"lntap/config"
	"lntap/lnbits"
	"lntap/monitor"
	"lntap/observability/logging"
	telemetry "lntap/observability/otel"
	"lntap/pour"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("lntapd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "lntapd.toml", "path to lntapd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Env
	if v := strings.TrimSpace(os.Getenv("LNTAP_ENV")); v != "" {
		env = v
	}
	logger := logging.Setup("lntapd", env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		insecure := true
		if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				insecure = parsed
			}
		}
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "lntapd",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = shutdownTelemetry(flushCtx)
		}()
	}

	engines := make([]*monitor.Engine, 0, len(cfg.Channels))
	pins := make([]*actuator.GPIOPin, 0, len(cfg.Channels))
	defer func() {
		for _, pin := range pins {
			if err := pin.Close(); err != nil {
				logger.Error("close gpio pin", "error", err)
			}
		}
	}()

	for _, ch := range cfg.Channels {
		pin, err := actuator.OpenGPIOPin(ch.GPIOPin)
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		pins = append(pins, pin)
		logger.Info("gpio initialized", "channel", ch.Name, "pin", ch.GPIOPin)

		client := lnbits.NewClient(ch.LNbitsURL, ch.APIKey)
		controller := actuator.NewController(pin, logger.With("channel", ch.Name))
		engine := monitor.NewEngine(ch.Name, client, controller, monitor.Config{
			MinPaymentSats: ch.MinPaymentSats,
			Rate: pour.Rate{
				SatsPerSecond:  ch.SatsPerSecond,
				MaxSeconds:     ch.MaxPourSeconds,
				DefaultSeconds: ch.DefaultPourSeconds,
			},
			Lookback: cfg.Lookback.Duration,
		}, monitor.WithLogger(logger))
		engines = append(engines, engine)
	}

	orch := monitor.NewOrchestrator(engines, cfg.PollInterval.Duration, logger)

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: admin.New(orch)}
	go func() {
		logger.Info("ops endpoints listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	runErr := orch.Run(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}
	return runErr
}
