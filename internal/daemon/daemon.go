package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/api"
	"github.com/tutu-network/mtran/internal/app/detect"
	"github.com/tutu-network/mtran/internal/app/translate"
	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/health"
	"github.com/tutu-network/mtran/internal/infra/cache"
	"github.com/tutu-network/mtran/internal/infra/engine"
	"github.com/tutu-network/mtran/internal/infra/langid"
	"github.com/tutu-network/mtran/internal/infra/records"
	"github.com/tutu-network/mtran/internal/infra/sqlite"
	"github.com/tutu-network/mtran/internal/logging"
)

// Daemon is the mtran runtime. It wires together all services.
type Daemon struct {
	Config   Config
	Log      zerolog.Logger
	DB       *sqlite.DB
	Records  *records.Manager
	Backend  domain.InferenceBackend
	Registry *engine.Registry
	Detector *detect.Detector
	Cache    *cache.LRU
	Router   *translate.Router
	Health   *health.Checker
	Server   *api.Server

	logFile io.Closer
	cancel  context.CancelFunc
}

// New creates a Daemon from ~/.mtran/config.toml and MT_* overrides.
func New(version string) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, version)
}

// NewWithConfig creates a Daemon with the given configuration. Nothing is
// fetched or loaded until Serve or Init.
func NewWithConfig(cfg Config, version string) (*Daemon, error) {
	d := &Daemon{Config: cfg}

	var file io.Writer
	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return nil, err
		}
		d.logFile = f
		file = f
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Console, file)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Log = logger

	home := mtranHome()
	db, err := sqlite.Open(home)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	d.DB = db

	d.Records = records.NewManager(records.Options{
		ConfigDir:       home,
		ModelDir:        cfg.Models.Dir,
		RecordsURL:      cfg.Models.RecordsURL,
		AttachmentsURL:  cfg.Models.AttachmentsURL,
		Offline:         cfg.Models.Offline,
		DownloadTimeout: cfg.Models.DownloadTimeout,
		Logger:          logger,
	}, db)

	// Prefer a real translation worker, fall back to the mock backend.
	worker, err := engine.NewSubprocessBackend(home, cfg.Engine.WorkerPath, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("translation worker not found, using mock backend (no real translation)")
		d.Backend = engine.NewMockBackend()
	} else {
		logger.Info().Str("worker", worker.Path()).Msg("using translation worker")
		d.Backend = worker
	}

	engOpts := engine.DefaultOptions()
	engOpts.MaxSentenceLength = cfg.Engine.MaxSentenceLength
	engOpts.InitTimeout = cfg.Engine.InitTimeout
	if cfg.Engine.BeamSize > 0 {
		engOpts.Runtime.BeamSize = cfg.Engine.BeamSize
	}
	engOpts.Runtime.CPUThreads = cfg.Engine.CPUThreads

	d.Registry = engine.NewRegistry(d.Backend, d.Records, engine.RegistryOptions{
		IdleTimeout: cfg.Engine.IdleTimeout,
		Offline:     cfg.Models.Offline,
		Engine:      engOpts,
		Logger:      logger,
	})

	d.Detector = detect.New(langid.Factory(langid.Options{}), detect.Options{
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		MaxLanguages:        cfg.Detector.MaxLanguages,
	}, logger)

	d.Cache, err = cache.New(cfg.Engine.CacheSize)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	routeOpts := translate.DefaultOptions()
	routeOpts.MaxSentenceLength = cfg.Engine.MaxSentenceLength
	routeOpts.FullwidthZhPunctuation = cfg.Engine.FullwidthZhPunctuation
	d.Router = translate.NewRouter(d.Registry, d.Detector, d.Records, d.Cache, routeOpts, logger)

	d.Health = health.NewChecker(db, d.Records, cfg.Models.Dir, logger)

	d.Server = api.NewServer(d.Router, d.Detector, d.Records, d.Registry, api.Options{
		Token:       cfg.Server.APIToken,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     cfg.Telemetry.Prometheus,
		LogRequests: cfg.Logging.Requests,
		Version:     version,
		Logger:      logger,
	})
	d.Server.SetHealth(d.Health)

	return d, nil
}

// Init loads the record catalog.
func (d *Daemon) Init(ctx context.Context) error {
	return d.Records.Init(ctx)
}

// Serve starts the HTTP server and blocks until shutdown. A catalog that
// fails to load is retried by the health checker.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.Init(ctx); err != nil {
		d.Log.Warn().Err(err).Msg("model records unavailable, translation disabled until they load")
	}

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			d.Log.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	d.Log.Info().
		Str("addr", "http://"+addr).
		Bool("offline", d.Config.Models.Offline).
		Bool("metrics", d.Config.Telemetry.Prometheus).
		Bool("auth", d.Config.Server.APIToken != "").
		Msg("mtran serving")

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		err = nil
	}
	d.Close()
	return err
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Registry != nil {
		d.Registry.CleanupAll()
	}
	if d.Backend != nil {
		d.Backend.Close()
		d.Backend = nil
	}
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
}
