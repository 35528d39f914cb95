// Package appvisor supervises one class of long-running application
// processes, one instance per TCP port. It is a thin facade over the
// internal controller for embedding.
package appvisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/appvisor/internal/config"
	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/history/factory"
	"github.com/loykin/appvisor/internal/inspect"
	"github.com/loykin/appvisor/internal/logger"
	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/probe"
	"github.com/loykin/appvisor/internal/registry"
	iapi "github.com/loykin/appvisor/internal/server"
	apptls "github.com/loykin/appvisor/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.Config

type StartOptions = manager.StartOptions

type Report = manager.Report

type State = manager.State

type Instance = inspect.Instance

type Usage = inspect.Usage

type HistoryEvent = history.Event

type HistorySink = history.Sink

const (
	StateUnmanaged = manager.StateUnmanaged
	StateRunning   = manager.StateRunning
	StateStale     = manager.StateStale
	StateOrphaned  = manager.StateOrphaned
)

var (
	ErrPrerequisiteMissing = manager.ErrPrerequisiteMissing
	ErrPortConflict        = manager.ErrPortConflict
	ErrLaunchTimeout       = manager.ErrLaunchTimeout
	ErrPrematureExit       = manager.ErrPrematureExit
	ErrStopTimeout         = manager.ErrStopTimeout
	ErrNoLogs              = logger.ErrNoLogs
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Manager wires the registry, inspector, prober, log channels and history
// sinks described by a Config into a lifecycle controller.
type Manager struct {
	cfg      *Config
	inner    *manager.Controller
	scan     *inspect.Inspector
	logs     *logger.Channels
	registry registry.Store
	history  history.Multi
	log      *slog.Logger
}

// New builds a Manager from cfg. Extra sinks receive lifecycle events in
// addition to the ones configured by cfg.History.DSNs.
func New(cfg *Config, log *slog.Logger, extra ...HistorySink) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("appvisor: nil config")
	}
	if log == nil {
		log = slog.Default()
	}
	reg, err := registry.Open(cfg.RegistryConfig())
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	sinks, err := factory.NewSinks(cfg.History.DSNs)
	if err != nil {
		closeStore(reg)
		return nil, fmt.Errorf("history sinks: %w", err)
	}
	sinks = append(sinks, extra...)

	m := &Manager{
		cfg:      cfg,
		scan:     inspect.New(cfg.Signature(), log),
		logs:     logger.NewChannels(cfg.LogsConfig()),
		registry: reg,
		history:  sinks,
		log:      log,
	}
	opts := manager.Options{
		Registry: reg,
		Finder:   m.scan,
		Prober:   probe.New(cfg.Timeouts.Probe),
		Logs:     m.logs,
		Launch: manager.Launch{
			Runner:    cfg.App.Runner,
			Fallbacks: cfg.App.RunnerFallbacks,
			Args:      cfg.App.Args,
			Entry:     cfg.EntryPath(),
			Dir:       cfg.App.ProjectRoot,
			Env:       cfg.App.Env,
		},
		Timeouts: manager.Timeouts{
			Startup:      cfg.Timeouts.Startup,
			PollInterval: cfg.Timeouts.PollInterval,
			StopGrace:    cfg.Timeouts.StopGrace,
			KillGrace:    cfg.Timeouts.KillGrace,
			OrphanGrace:  cfg.Timeouts.OrphanGrace,
		},
		Logger: log,
	}
	if len(sinks) > 0 {
		opts.History = sinks
	}
	if m.inner, err = manager.New(opts); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) Config() *Config { return m.cfg }

func (m *Manager) Start(ctx context.Context, o StartOptions) (int, error) {
	return m.inner.Start(ctx, o)
}
func (m *Manager) Stop(ctx context.Context, port int) error { return m.inner.Stop(ctx, port) }
func (m *Manager) Status(ctx context.Context, port int) (Report, error) {
	return m.inner.Status(ctx, port)
}
func (m *Manager) State(ctx context.Context, port int) State { return m.inner.State(ctx, port) }
func (m *Manager) Cleanup(ctx context.Context) int           { return m.inner.Cleanup(ctx) }

// Usage samples resource usage of a managed process.
func (m *Manager) Usage(ctx context.Context, pid int) (Usage, error) { return m.scan.Usage(ctx, pid) }

// LogPaths returns the stdout and stderr channel files of port.
func (m *Manager) LogPaths(port int) (string, string, error) { return m.logs.Paths(port) }

// Logs writes the last lines of port's log channels to w and, with follow,
// keeps streaming until ctx is cancelled.
func (m *Manager) Logs(ctx context.Context, port, lines int, follow bool, w io.Writer) error {
	return m.logs.Tail(ctx, port, lines, follow, w)
}

func (m *Manager) ClearLogs(port int) ([]string, error) { return m.logs.Clear(port) }

// Handler exposes the HTTP control API, mounted under the configured base path.
func (m *Manager) Handler() http.Handler {
	return iapi.NewRouter(m.inner, m.cfg.Server.BasePath, m.cfg.App.Port, m.log).Handler()
}

// NewHTTPServer builds a server for the control API; addr defaults to the
// configured listen address. TLSConfig is set when [server.tls] is enabled,
// in which case the caller serves with ListenAndServeTLS("", "").
func (m *Manager) NewHTTPServer(addr string) (*http.Server, error) {
	if addr == "" {
		addr = m.cfg.Server.Listen
	}
	tc, err := apptls.Setup(m.cfg.TLSOptions())
	if err != nil {
		return nil, fmt.Errorf("server TLS: %w", err)
	}
	srv := iapi.NewServer(addr, m.cfg.Server.BasePath, m.cfg.App.Port, m.inner, m.log)
	srv.TLSConfig = tc
	return srv, nil
}

// Close releases the registry and the history sinks. Running instances are
// left alone.
func (m *Manager) Close() error {
	var errs []error
	if err := m.history.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := m.registry.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeStore(s registry.Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func WriteMetricsTextfile(path string) error        { return metrics.WriteTextfile(path) }
