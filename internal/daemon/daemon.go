// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon assembles atelierd: configuration, logging, telemetry,
// secrets, providers, the sandbox manager, snapshot store, refinement
// engine, and the HTTP surface (run trigger, health, metrics, and the
// WebSocket trace stream).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/tombee/atelier/internal/config"
	"github.com/tombee/atelier/internal/engine"
	"github.com/tombee/atelier/internal/journal"
	"github.com/tombee/atelier/internal/log"
	"github.com/tombee/atelier/internal/rpc"
	"github.com/tombee/atelier/internal/sandbox"
	"github.com/tombee/atelier/internal/secrets"
	"github.com/tombee/atelier/internal/snapshot"
	"github.com/tombee/atelier/internal/tracing"
	"github.com/tombee/atelier/pkg/provider"
	"github.com/tombee/atelier/pkg/score"
	"github.com/tombee/atelier/pkg/trace"
)

// Options carry build metadata and the config file location.
type Options struct {
	Version    string
	Commit     string
	BuildDate  string
	ConfigPath string
}

// Daemon is the atelierd process.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	paths  Paths

	telemetry *tracing.Provider
	journal   *journal.Journal
	bus       *trace.Bus
	sandboxes *sandbox.Manager
	snapshots *snapshot.Store
	engine    *engine.Engine
	rpcServer *rpc.Server

	server *http.Server
	ln     net.Listener

	// runCtx outlives individual trigger requests; runs are bound to
	// it, not to the HTTP request that started them.
	runCtx    context.Context
	runCancel context.CancelFunc

	runsMu sync.Mutex
	runs   map[string]*engine.Run // by run id

	mu      sync.Mutex
	started bool
}

// New wires the daemon's components from the configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := log.WithComponent(log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
	}), "daemon")

	telemetry, err := tracing.NewProvider(context.Background(), tracing.Config{
		ServiceName:    "atelierd",
		ServiceVersion: opts.Version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	journalPath := cfg.Trace.JournalPath
	if journalPath == "" {
		journalPath = filepath.Join(cfg.Storage.Root, "journal", "events.db")
	}
	jnl, err := journal.Open(journalPath, log.WithComponent(logger, "journal"))
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}

	bus := trace.NewBus(log.WithComponent(logger, "trace"), cfg.Trace.Retention, trace.WithAppender(jnl))
	if err := jnl.SeedBus(bus); err != nil {
		logger.Warn("journal replay failed; subscribers start without history", log.Error(err))
	}

	codegen, scorer, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := engine.NewMetrics(telemetry.Registerer())
	liveGauge := promauto.With(telemetry.Registerer()).NewGauge(prometheus.GaugeOpts{
		Name: "atelier_sandbox_live_previews",
		Help: "Number of running preview processes.",
	})

	sandboxes := sandbox.NewManager(sandbox.Config{
		TemplateDir:   cfg.Storage.TemplateDir,
		ReadyTimeout:  cfg.Sandbox.ReadyTimeout,
		KillGrace:     cfg.Sandbox.KillGrace,
		ReapInterval:  cfg.Sandbox.ReapInterval,
		CurrentTTL:    cfg.Sandbox.CurrentTTL,
		HistoricalTTL: cfg.Sandbox.HistoricalTTL,
		MaxHistorical: cfg.Sandbox.MaxHistorical,
		Logger:        log.WithComponent(logger, "sandbox"),
		LiveGauge:     liveGauge,
	})

	snapshots := snapshot.NewStore(cfg.Storage.Root, nil, log.WithComponent(logger, "snapshot"))
	paths := Paths{Root: cfg.Storage.Root}

	eng := engine.New(engineConfig(cfg), engine.Deps{
		Codegen:   codegen,
		Scorer:    scorer,
		Sandbox:   sandboxes,
		Capture:   &captureRouter{paths: paths, logger: log.WithComponent(logger, "capture")},
		Overflow:  &captureRouter{paths: paths, logger: log.WithComponent(logger, "overflow")},
		Snapshots: snapshots,
		Bus:       bus,
		Logger:    log.WithComponent(logger, "engine"),
		Metrics:   metrics,
		Tracer:    telemetry.Tracer("atelier/engine"),
	})

	rpcServer := rpc.NewServer(bus, rpc.Config{
		AuthToken: cfg.Listen.AuthToken,
		Logger:    log.WithComponent(logger, "rpc"),
	})

	return &Daemon{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		paths:     paths,
		telemetry: telemetry,
		journal:   jnl,
		bus:       bus,
		sandboxes: sandboxes,
		snapshots: snapshots,
		engine:    eng,
		rpcServer: rpcServer,
		runs:      make(map[string]*engine.Run),
	}, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Threshold: cfg.Stop.Threshold,
		Epsilon:   cfg.Score.Epsilon,
		Weights:   cfg.Score.Weights,
		Stop: score.StopConfig{
			MaxIterations:            cfg.Stop.MaxIterations,
			MaxConsecutiveRejections: cfg.Stop.MaxConsecutiveRejections,
			PlateauWindow:            cfg.Stop.PlateauWindow,
			PlateauThreshold:         cfg.Stop.PlateauThreshold,
			TimeBudget:               cfg.Stop.TimeBudget,
			CustomRule:               cfg.Stop.CustomRule,
		},
		ReadyTimeout: cfg.Sandbox.ReadyTimeout,
	}
}

// buildProviders constructs the codegen and scoring clients. API keys
// come from the secrets chain; a missing key just disables bearer auth.
func buildProviders(cfg *config.Config, logger *slog.Logger) (provider.CodegenProvider, provider.VisionScorer, error) {
	configDir, err := config.Dir()
	if err != nil {
		return nil, nil, err
	}
	resolver := secrets.DefaultResolver(configDir)

	lookup := func(key string) string {
		value, err := resolver.Get(context.Background(), key)
		if err != nil {
			if !errors.Is(err, secrets.ErrNotFound) {
				logger.Warn("secret lookup failed", "key", key, log.Error(err))
			}
			return ""
		}
		return value
	}

	codegen, err := provider.NewHTTPCodegen(provider.HTTPConfig{
		Endpoint:  cfg.Provider.CodegenEndpoint,
		Model:     cfg.Provider.CodegenModel,
		APIKey:    lookup(secrets.KeyCodegenAPIKey),
		Timeout:   cfg.Provider.Timeout,
		RateLimit: rate.Limit(cfg.Provider.RateLimit),
		RateBurst: cfg.Provider.RateBurst,
		Logger:    log.WithProvider(logger, "codegen"),
	})
	if err != nil {
		return nil, nil, err
	}

	scorer, err := provider.NewHTTPScorer(provider.HTTPConfig{
		Endpoint:  cfg.Provider.ScorerEndpoint,
		Model:     cfg.Provider.ScorerModel,
		APIKey:    lookup(secrets.KeyScorerAPIKey),
		Timeout:   cfg.Provider.Timeout,
		RateLimit: rate.Limit(cfg.Provider.RateLimit),
		RateBurst: cfg.Provider.RateBurst,
		Logger:    log.WithProvider(logger, "scorer"),
	})
	if err != nil {
		return nil, nil, err
	}

	return codegen, scorer, nil
}

// Start serves until the context is canceled or the listener fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	d.runCtx, d.runCancel = context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", d.cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.cfg.Listen.Addr, err)
	}
	d.ln = ln

	d.server = &http.Server{
		Handler:     d.routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	if d.opts.ConfigPath != "" {
		go d.watchConfig(d.runCtx, d.opts.ConfigPath)
	}

	d.logger.Info("atelierd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("storage_root", d.cfg.Storage.Root))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// watchConfig applies hot-reloadable tuning to the engine. Runs already
// in flight keep their settings.
func (d *Daemon) watchConfig(ctx context.Context, path string) {
	err := config.Watch(ctx, path, log.WithComponent(d.logger, "config"), func(r config.Reloadable) {
		d.engine.Retune(r.Stop.Threshold, r.Score.Epsilon, r.Score.Weights, score.StopConfig{
			MaxIterations:            r.Stop.MaxIterations,
			MaxConsecutiveRejections: r.Stop.MaxConsecutiveRejections,
			PlateauWindow:            r.Stop.PlateauWindow,
			PlateauThreshold:         r.Stop.PlateauThreshold,
			TimeBudget:               r.Stop.TimeBudget,
			CustomRule:               r.Stop.CustomRule,
		})
		d.logger.Info("tuning reloaded",
			slog.Float64("threshold", r.Stop.Threshold),
			slog.Float64("epsilon", r.Score.Epsilon))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("config watch stopped", log.Error(err))
	}
}

// Shutdown stops runs, previews, and servers in order: engine first so
// no new sandbox work arrives, then sandboxes, then the HTTP surface,
// then the bus and journal.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.logger.Info("graceful shutdown initiated")

	if d.runCancel != nil {
		d.runCancel()
	}

	stopCtx, cancel := context.WithTimeout(ctx, d.cfg.Listen.ShutdownTimeout)
	defer cancel()
	if err := d.engine.Shutdown(stopCtx); err != nil {
		d.logger.Warn("runs did not drain before timeout", log.Error(err))
	}

	d.sandboxes.StopAll()
	d.rpcServer.Shutdown()

	if d.server != nil {
		httpCtx, cancel := context.WithTimeout(ctx, d.cfg.Listen.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(httpCtx); err != nil {
			d.logger.Error("http server shutdown error", log.Error(err))
		}
	}

	d.bus.Close()
	if err := d.journal.Close(); err != nil {
		d.logger.Error("journal close error", log.Error(err))
	}

	telemetryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.telemetry.Shutdown(telemetryCtx); err != nil {
		d.logger.Error("telemetry shutdown error", log.Error(err))
	}

	d.logger.Info("daemon stopped")
	return nil
}

// Addr returns the bound listener address, for tests and logs.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// trackRun indexes a run for GET /runs/{id} and mirrors its lifecycle
// into project.json.
func (d *Daemon) trackRun(run *engine.Run) {
	d.runsMu.Lock()
	d.runs[run.ID] = run
	d.runsMu.Unlock()

	if err := d.paths.MarkRunning(run.ProjectID, run.ID); err != nil {
		d.logger.Warn("project state update failed", log.Error(err))
	}

	go func() {
		<-run.Done()
		if err := d.paths.MarkIdle(run.ProjectID); err != nil {
			d.logger.Warn("project state update failed", log.Error(err))
		}
	}()
}

func (d *Daemon) lookupRun(runID string) (*engine.Run, bool) {
	d.runsMu.Lock()
	defer d.runsMu.Unlock()
	run, ok := d.runs[runID]
	return run, ok
}
