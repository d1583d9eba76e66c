package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/controller"
	"github.com/danielpatrickdp/beam-controller/internal/eval"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
	"github.com/danielpatrickdp/beam-controller/internal/server"
	"github.com/danielpatrickdp/beam-controller/internal/state"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
)

// #region main
type options struct {
	dbPath     string
	gateway    telemetry.GatewayConfig
	httpAddr   string
	grpcAddr   string
	saveEvery  int
	maxAge     time.Duration
	tickDelay  time.Duration
	exploreC   float64
	perCutoff  float64
	probeEvery time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.dbPath, "db", envOr("BEAM_DB", "beam_state.db"), "SQLite snapshot database")
	flag.StringVar(&o.gateway.Kind, "gateway", envOr("BEAM_GATEWAY", "file"), "telemetry gateway: file or mqtt")
	flag.StringVar(&o.gateway.DataDir, "data-dir", envOr("BEAM_DATA_DIR", "data"), "exchange directory for the file gateway")
	flag.StringVar(&o.gateway.Broker, "mqtt-broker", envOr("BEAM_MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL")
	flag.StringVar(&o.httpAddr, "http-addr", envOr("BEAM_HTTP_ADDR", ":8080"), "operator HTTP address (empty disables)")
	flag.StringVar(&o.grpcAddr, "grpc-addr", envOr("BEAM_GRPC_ADDR", ":50061"), "gRPC health address (empty disables)")
	flag.IntVar(&o.saveEvery, "save-every", controller.DefaultCheckpointConfig().Every, "snapshot every N bandit updates")
	flag.DurationVar(&o.maxAge, "max-telemetry-age", 0, "drop fallback readings older than this (0 keeps them)")
	flag.DurationVar(&o.tickDelay, "tick", controller.DefaultConfig().TickDelay, "delay between controller ticks")
	flag.Float64Var(&o.exploreC, "exploration", bandit.DefaultConfig().Exploration, "UCB exploration weight")
	flag.Float64Var(&o.perCutoff, "per-threshold", controller.DefaultConfig().Gate.PERThreshold, "PER percent at or above which only probes are sent")
	flag.DurationVar(&o.probeEvery, "probe-interval", controller.DefaultConfig().Gate.ProbeInterval, "send a probe after this long without a command")
	flag.Parse()

	os.Exit(run(o))
}

// #endregion main

// #region run
func run(o options) int {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("beam-controller"), log)
	if err != nil {
		log.Error(ctx, "init tracing", logging.Err(err))
		return 1
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewControllerCollector(nil)
	if err != nil {
		log.Error(ctx, "init metrics", logging.Err(err))
		return 1
	}

	store, err := state.NewStore(o.dbPath)
	if err != nil {
		log.Error(ctx, "open store", logging.String("db", o.dbPath), logging.Err(err))
		return 1
	}
	defer store.Close()

	bcfg := bandit.DefaultConfig()
	bcfg.Exploration = o.exploreC
	model, err := bandit.New(bcfg)
	if err != nil {
		log.Error(ctx, "init model", logging.Err(err))
		return 1
	}
	rounds := restore(ctx, store, model, log)

	decisions, err := logging.NewDecisionLog(store.DB())
	if err != nil {
		log.Error(ctx, "open decision log", logging.Err(err))
		return 1
	}

	o.gateway.Log = log
	gw, closeGateway, err := telemetry.OpenGateway(o.gateway)
	if err != nil {
		log.Error(ctx, "open gateway", logging.String("kind", o.gateway.Kind), logging.Err(err))
		return 1
	}
	defer closeGateway()

	cpCfg := controller.DefaultCheckpointConfig()
	cpCfg.Every = o.saveEvery
	cp := controller.NewCheckpointer(cpCfg, model, store, log, collector)
	cp.SetRounds(rounds)

	cfg := controller.DefaultConfig()
	cfg.TickDelay = o.tickDelay
	cfg.MaxTelemetryAge = o.maxAge
	cfg.Gate.PERThreshold = o.perCutoff
	cfg.Gate.ProbeInterval = o.probeEvery
	ctrl, err := controller.New(cfg, model, gw,
		controller.WithLogger(log),
		controller.WithMetrics(collector),
		controller.WithObserver(cp),
		controller.WithDecisionLog(decisions),
	)
	if err != nil {
		log.Error(ctx, "init controller", logging.Err(err))
		return 1
	}

	scfg := server.DefaultConfig()
	scfg.HTTPAddr = o.httpAddr
	scfg.GRPCAddr = o.grpcAddr
	scfg.AngleOffset = cfg.Shaper.AngleOffset
	srv := server.New(scfg, ctrl,
		server.WithVersions(store),
		server.WithDecisions(decisions),
		server.WithMetrics(collector),
		server.WithLogger(log),
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()
	cp.Start(ctx)
	srv.SetServing(true)

	log.Info(ctx, "beam controller running",
		logging.String("db", o.dbPath),
		logging.String("gateway", o.gateway.Kind),
		logging.Int("rounds", rounds),
	)
	runErr := ctrl.Run(ctx)
	srv.SetServing(false)

	exit := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error(ctx, "controller stopped", logging.Err(runErr))
		exit = 1
	}
	stop()
	if err := <-serveErr; err != nil {
		log.Error(ctx, "operator server", logging.Err(err))
		exit = 1
	}

	cp.Close()
	final := context.Background()
	if cp.Rounds() != rounds {
		if err := cp.SaveNow(final); err != nil {
			log.Error(final, "final snapshot", logging.Err(err))
			exit = 1
		}
	}
	log.Info(final, "beam controller stopped",
		logging.Int("rounds", cp.Rounds()),
		logging.String("version_id", cp.LastVersion()),
	)
	return exit
}

// restore loads the active snapshot into model and returns its round count.
// A missing or invalid snapshot leaves the model cold.
func restore(ctx context.Context, store *state.Store, model *bandit.Model, log logging.Logger) int {
	rec, err := store.GetCurrent(ctx)
	if errors.Is(err, state.ErrNoSnapshot) {
		log.Info(ctx, "no snapshot found, cold start")
		return 0
	}
	if err != nil {
		log.Warn(ctx, "load snapshot failed, cold start", logging.Err(err))
		return 0
	}

	result := eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(rec.Snapshot)
	if !result.Passed {
		log.Warn(ctx, "snapshot failed validation, cold start",
			logging.String("version_id", rec.VersionID),
			logging.String("reason", result.Reason),
		)
		return 0
	}
	if err := model.Restore(rec.Snapshot); err != nil {
		log.Warn(ctx, "restore snapshot failed, cold start",
			logging.String("version_id", rec.VersionID),
			logging.Err(err),
		)
		return 0
	}
	log.Info(ctx, "snapshot restored",
		logging.String("version_id", rec.VersionID),
		logging.Int("rounds", rec.Rounds),
	)
	return rec.Rounds
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
