package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/burrowdb/pkg/api"
	"github.com/dd0wney/burrowdb/pkg/audit"
	"github.com/dd0wney/burrowdb/pkg/auth"
	"github.com/dd0wney/burrowdb/pkg/coldstore"
	"github.com/dd0wney/burrowdb/pkg/config"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/fanout"
	"github.com/dd0wney/burrowdb/pkg/health"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/metrics"
	burrowtls "github.com/dd0wney/burrowdb/pkg/tls"
	"github.com/dd0wney/burrowdb/pkg/transport"
)

// MetricsInterval is how often gauges are refreshed from the engine
const MetricsInterval = 10 * time.Second

// CertificateWarnWindow marks the HTTPS certificate degraded this long before expiry
const CertificateWarnWindow = 14 * 24 * time.Hour

// AppOptions configures New
type AppOptions struct {
	// ConfigPath is re-read on SIGHUP to apply a new log level
	ConfigPath string
	Logger     logging.Logger
	// ColdStore overrides the configured backend
	ColdStore coldstore.Store
}

// App is a fully wired BurrowDB process
type App struct {
	cfg       config.Config
	logger    logging.Logger
	metrics   *metrics.Registry
	loop      *engine.Loop
	coalescer *fanout.Coalescer
	health    *health.HealthChecker
	nng       *transport.Server
	graceful  *GracefulServer
	auditLog  *audit.Ring
	auditFile *audit.FileLogger

	stopMetrics chan struct{}
	metricsWG   sync.WaitGroup
}

// OpenColdStore opens the configured cold store backend
func OpenColdStore(ctx context.Context, cfg config.Config, logger logging.Logger) (coldstore.Store, error) {
	switch cfg.Cold.Backend {
	case config.BackendFile:
		return coldstore.OpenFileStore(cfg.ColdDir(), coldstore.FileOptions{
			UseMmap:  cfg.Cold.Mmap,
			Compress: cfg.Cold.Compress,
			Logger:   logger,
		})
	case config.BackendS3:
		s3cfg := cfg.Cold.S3
		return coldstore.OpenS3Store(ctx, coldstore.S3Options{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			UsePathStyle:    s3cfg.UsePathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			Compress:        cfg.Cold.Compress,
			Timeout:         s3cfg.Timeout,
			Logger:          logger,
		})
	case config.BackendMemory:
		return coldstore.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown cold store backend %q", cfg.Cold.Backend)
	}
}

// New opens the engine and builds every listener described by cfg. Nothing
// accepts traffic until Run.
func New(ctx context.Context, cfg config.Config, opts AppOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	reg := metrics.NewRegistry()

	cold := opts.ColdStore
	if cold == nil {
		var err error
		cold, err = OpenColdStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open cold store: %w", err)
		}
	}

	e, err := engine.Open(cfg.EngineConfig(),
		engine.WithLogger(logger),
		engine.WithObserver(reg),
		engine.WithColdStore(cold),
	)
	if err != nil {
		cold.Close()
		return nil, err
	}

	lopts := cfg.LoopOptions()
	lopts.Logger = logger
	loop := engine.NewLoop(e, lopts)
	coalescer := fanout.New(loop, reg)

	hc := health.NewHealthChecker()
	hc.RegisterLivenessCheck("process", health.SimpleCheck("process"))
	hc.RegisterReadinessCheck("engine", health.EngineCheck(loop.Stats, 0))
	hc.RegisterCheck("engine", health.EngineCheck(loop.Stats, 0))
	hc.RegisterCheck("cold_store", health.ColdStoreCheck(cold))
	hc.RegisterCheck("disk_space", health.DiskSpaceCheck(health.DirUsage(cfg.DataDir)))
	hc.RegisterCheck("memory", health.MemoryCheck(health.RuntimeMemory))

	tlsConfig, err := burrowtls.Load(cfg.Server.TLS.Options())
	if err != nil {
		loop.Close()
		return nil, err
	}
	if tlsConfig != nil {
		info, err := burrowtls.Describe(tlsConfig)
		if err != nil {
			loop.Close()
			return nil, err
		}
		hc.RegisterCheck("tls_certificate", health.CertificateCheck(info, CertificateWarnWindow))
	}

	var (
		auditRing *audit.Ring
		auditFile *audit.FileLogger
		auditSink audit.Logger
		sinks     audit.Tee
	)
	if cfg.Audit.RingSize > 0 {
		auditRing = audit.NewRing(cfg.Audit.RingSize)
		sinks = append(sinks, auditRing)
	}
	if cfg.Audit.File {
		auditFile, err = audit.OpenFile(cfg.AuditPath())
		if err != nil {
			loop.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, auditFile)
	}
	if len(sinks) > 0 {
		auditSink = sinks
	}

	var validator auth.TokenValidator
	if cfg.Auth.Enabled() {
		jm, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			loop.Close()
			if auditFile != nil {
				auditFile.Close()
			}
			return nil, fmt.Errorf("failed to configure auth: %w", err)
		}
		validator = jm
	}

	handler := api.NewServer(api.Options{
		Submitter:    coalescer,
		Health:       hc,
		Metrics:      reg,
		Validator:    validator,
		Logger:       logger,
		MaxValueSize: cfg.Storage.MaxValueBytes,
		Audit:        auditSink,
		AuditLog:     auditRing,
	}).Handler()

	a := &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   reg,
		loop:      loop,
		coalescer: coalescer,
		health:    hc,
		auditLog:  auditRing,
		auditFile: auditFile,
		graceful: NewGracefulServer(cfg.Server.HTTPAddr, handler, GracefulOptions{
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Logger:          logger,
			TLS:             tlsConfig,
		}),
		stopMetrics: make(chan struct{}),
	}

	if cfg.Server.NNGURL != "" {
		a.nng = transport.NewServer(coalescer, transport.ServerOptions{
			URL:            cfg.Server.NNGURL,
			MaxMessageSize: cfg.Storage.MaxValueBytes + engine.MaxKeySize + 64,
			Logger:         logger,
		})
	}

	if opts.ConfigPath != "" {
		a.graceful.SetConfigReloadFunc(func() error {
			next, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logger.SetLevel(logging.ParseLevel(next.LogLevel))
			return nil
		})
	}

	return a, nil
}

// Run starts the engine loop and listeners and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	return a.graceful.Run(ctx)
}

// Start launches everything without blocking. Run calls it; tests may call
// it directly and finish with Shutdown.
func (a *App) Start() error {
	if err := a.graceful.Listen(); err != nil {
		a.loop.Close()
		return err
	}

	a.loop.Start()

	if a.nng != nil {
		if err := a.nng.Start(); err != nil {
			a.loop.Close()
			return err
		}
		a.graceful.OnShutdown("nng", func(context.Context) error { return a.nng.Stop() })
	}

	a.metricsWG.Add(1)
	go a.updateMetricsPeriodically()
	a.graceful.OnShutdown("metrics", func(context.Context) error {
		close(a.stopMetrics)
		a.metricsWG.Wait()
		return nil
	})
	a.graceful.OnShutdown("engine", func(context.Context) error { return a.loop.Close() })
	if a.auditFile != nil {
		a.graceful.OnShutdown("audit", func(context.Context) error { return a.auditFile.Close() })
	}

	a.logger.Info("burrowdb started",
		logging.String("http_addr", a.graceful.Addr()),
		logging.String("nng_url", a.cfg.Server.NNGURL),
		logging.String("cold_backend", a.cfg.Cold.Backend),
		logging.Path(a.cfg.LogPath()),
	)
	return nil
}

// Shutdown stops listeners, then the engine
func (a *App) Shutdown() error {
	return a.graceful.Shutdown()
}

// AuditLog returns the in-memory audit ring, or nil when disabled
func (a *App) AuditLog() *audit.Ring {
	return a.auditLog
}

// HTTPAddr returns the bound HTTP address
func (a *App) HTTPAddr() string {
	return a.graceful.Addr()
}

// Submitter returns the command entry point shared by all listeners
func (a *App) Submitter() engine.Submitter {
	return a.coalescer
}

// Metrics returns the process registry
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

// Health returns the process health checker
func (a *App) Health() *health.HealthChecker {
	return a.health
}

func (a *App) updateMetricsPeriodically() {
	defer a.metricsWG.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopMetrics:
			return
		case <-ticker.C:
			a.refreshMetrics()
		}
	}
}

func (a *App) refreshMetrics() {
	a.metrics.UpdateSystemMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), MetricsInterval)
	defer cancel()
	stats, err := a.loop.Stats(ctx)
	if err != nil {
		a.logger.Debug("skipping engine metrics", logging.Error(err))
		return
	}
	a.metrics.UpdateEngineStats(stats)
}
