package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
	"github.com/danielpatrickdp/beam-controller/internal/pid"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
)

// #region main
func main() {
	defaults := pid.DefaultLoopConfig()
	cfg := defaults

	var gw telemetry.GatewayConfig
	flag.StringVar(&gw.Kind, "gateway", envOr("BEAM_GATEWAY", "file"), "telemetry gateway: file or mqtt")
	flag.StringVar(&gw.DataDir, "data-dir", envOr("BEAM_DATA_DIR", "data"), "exchange directory for the file gateway")
	flag.StringVar(&gw.Broker, "mqtt-broker", envOr("BEAM_MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL")
	metricsAddr := flag.String("metrics-addr", envOr("BEAM_METRICS_ADDR", ":9091"), "HTTP address for Prometheus /metrics (empty disables)")
	flag.Float64Var(&cfg.PID.Kp, "kp", defaults.PID.Kp, "proportional gain")
	flag.Float64Var(&cfg.PID.Ki, "ki", defaults.PID.Ki, "integral gain")
	flag.Float64Var(&cfg.PID.Kd, "kd", defaults.PID.Kd, "derivative gain")
	flag.Float64Var(&cfg.PID.SetPoint, "set-point", defaults.PID.SetPoint, "target link SNR in dB")
	flag.Float64Var(&cfg.PID.WindupGuard, "windup", defaults.PID.WindupGuard, "integral term clamp")
	flag.DurationVar(&cfg.Interval, "interval", defaults.Interval, "delay between PID steps")
	flag.DurationVar(&cfg.MaxTelemetryAge, "max-telemetry-age", 0, "drop fallback readings older than this (0 keeps them)")
	flag.Parse()

	if gw.ClientID == "" {
		gw.ClientID = "beam-pid-controller"
	}
	os.Exit(run(cfg, gw, *metricsAddr))
}

// #endregion main

// #region run
func run(cfg pid.LoopConfig, gwCfg telemetry.GatewayConfig, metricsAddr string) int {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := observability.NewControllerCollector(nil)
	if err != nil {
		log.Error(ctx, "init metrics", logging.Err(err))
		return 1
	}

	gwCfg.Log = log
	gw, closeGateway, err := telemetry.OpenGateway(gwCfg)
	if err != nil {
		log.Error(ctx, "open gateway", logging.String("kind", gwCfg.Kind), logging.Err(err))
		return 1
	}
	defer closeGateway()

	metricsSrv := serveMetrics(metricsAddr, collector, log)

	loop := pid.NewLoop(cfg, gw, pid.WithLogger(log), pid.WithMetrics(collector))
	err = loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(shutdownCtx, "pid loop stopped", logging.Err(err))
		return 1
	}
	log.Info(shutdownCtx, "pid controller stopped", logging.Float("output", loop.PID().Output()))
	return 0
}

func serveMetrics(addr string, collector *observability.ControllerCollector, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// #endregion run

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
