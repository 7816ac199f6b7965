package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/api"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/config"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/debug"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/health"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/oml"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/parser"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/profiling"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/security"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/server"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/session"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/version"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

var (
	configFile  = flag.String("config", defaultConfigPath, "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const defaultConfigPath = "config.yaml"

// probe inputs exercised by the readiness checks
const (
	probeRules = "type: regex\npattern: '^(?P<status>\\d+) (?P<reason>\\w+)$'\nfields: {status: digit}\n"
	probeLogs  = "200 OK"
	probeOML   = "http_status = take(status); * = take();"
)

func main() {
	flag.Parse()

	if *showVersion {
		v := version.Get()
		fmt.Printf("logdebug %s (engine %s)\n", v.ComponentVersion, v.EngineVersion)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	v := version.Get()
	logger.Info().
		Str("version", v.ComponentVersion).
		Str("engine_version", v.EngineVersion).
		Str("config", *configFile).
		Msg("Starting logdebug")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		collector.Start(cfg.Metrics.Interval)
	}

	store := session.NewStore(session.Config{
		IdleTTL:       cfg.Session.IdleTTL,
		MaxSessions:   cfg.Session.MaxSessions,
		SweepInterval: cfg.Session.SweepInterval,
		OnEvict: func(evicted, remaining int) {
			if collector != nil {
				collector.SessionsEvicted.Add(float64(evicted))
				collector.SessionsActive.Set(float64(remaining))
			}
		},
	}, logger)

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		store.Run(ctx)
	}()

	parseEngine := parser.NewEngine()
	omlEngine := oml.NewEngine()

	controller, err := debug.New(debug.Config{
		Store:           store,
		Parser:          parseEngine,
		Transformer:     omlEngine,
		Metrics:         collector,
		Tracer:          tracer.Tracer(),
		Logger:          logger,
		DefaultEncoding: cfg.Render.DefaultEncoding,
	})
	if err != nil {
		return fmt.Errorf("failed to create debug controller: %w", err)
	}

	checker := health.NewChecker(cfg.Health.Timeout)
	if collector != nil {
		checker.ReportTo(collector.HealthStatus)
	}
	registerChecks(checker, store, cfg.Session.MaxSessions, parseEngine, omlEngine)

	handler, err := api.NewHandler(api.Config{
		Controller:  controller,
		Health:      checker,
		Metrics:     collector,
		Logger:      logger,
		MetricsPath: cfg.Metrics.Path,
		MaxBodySize: cfg.Server.MaxBodySize,
		RateLimit:   cfg.Server.RateLimit,
		Compress:    cfg.Server.Compress,
		Profiling: profiling.Config{
			Enabled:      cfg.Profiling.Enabled,
			BlockProfile: cfg.Profiling.BlockProfile,
			MutexProfile: cfg.Profiling.MutexProfile,
		},
		Sessions: store.Len,
	})
	if err != nil {
		return fmt.Errorf("failed to create API handler: %w", err)
	}

	tlsConfig, err := security.LoadTLSConfig(security.TLSConfig{
		Enabled:      cfg.Server.TLS.Enabled,
		CertFile:     cfg.Server.TLS.CertFile,
		KeyFile:      cfg.Server.TLS.KeyFile,
		ClientCAFile: cfg.Server.TLS.ClientCAFile,
		MinVersion:   cfg.Server.TLS.MinVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	srv := server.New(server.Config{
		Address:      cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		TLS:          tlsConfig,
		Logger:       logger,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdownMgr := shutdown.New(shutdown.Config{
		Timeout: cfg.Shutdown.Timeout,
		Logger:  logger,
	})
	shutdownMgr.Register("http-server", shutdown.PhaseDrain, srv.Stop)
	shutdownMgr.Register("session-janitor", shutdown.PhaseStop, func(ctx context.Context) error {
		cancel()
		select {
		case <-janitorDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if collector != nil {
		shutdownMgr.Register("metrics", shutdown.PhaseStop, func(context.Context) error {
			collector.Stop()
			return nil
		})
	}
	shutdownMgr.Register("tracing", shutdown.PhaseFlush, tracer.Shutdown)

	logger.Info().Str("address", srv.Addr()).Msg("logdebug ready")

	shutdownMgr.WaitForSignal(context.Background())
	return shutdownMgr.Shutdown()
}

// loadConfig falls back to defaults only when the default path is missing
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		return config.LoadOrDefault(path)
	}
	return config.Load(path)
}

func registerChecks(checker *health.Checker, store *session.Store, maxSessions int, p *parser.Engine, t *oml.Engine) {
	checker.Register("sessions", health.SessionCapacity(store.Len, maxSessions))

	checker.Register("parse_engine", health.Probe(func(ctx context.Context) error {
		_, err := p.Parse(ctx, probeRules, probeLogs)
		return err
	}))

	checker.Register("oml_engine", health.Probe(func(ctx context.Context) error {
		rec := types.NewRecord("")
		rec.Set(types.Digit("status", 200))
		_, err := t.Transform(ctx, probeOML, rec)
		return err
	}))
}
