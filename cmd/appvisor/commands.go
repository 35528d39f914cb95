package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/appvisor"
	"github.com/loykin/appvisor/internal/logger"
)

const shutdownTimeout = 5 * time.Second

type command struct {
	global *GlobalFlags
	out    io.Writer
	errOut io.Writer
}

// session loads the configuration and opens a Manager for one invocation.
// The returned func flushes the metrics textfile and releases resources.
func (c *command) session() (*appvisor.Manager, func(), error) {
	cfg, err := appvisor.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, logCloser, err := logger.New(logger.Options{
		Level:   c.global.LogLevel,
		Console: c.errOut,
		Color:   colorable(c.errOut),
		File:    c.global.LogFile,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)
	if cfg.File != "" {
		log.Debug("configuration loaded", "file", cfg.File)
	}
	if err := appvisor.RegisterMetricsDefault(); err != nil {
		log.Warn("register metrics", "error", err)
	}
	m, err := appvisor.New(cfg, log)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}
	return m, func() {
		if p := cfg.Metrics.Textfile; p != "" {
			if err := appvisor.WriteMetricsTextfile(p); err != nil {
				log.Warn("write metrics textfile", "path", p, "error", err)
			}
		}
		if err := m.Close(); err != nil {
			log.Warn("close manager", "error", err)
		}
		_ = logCloser.Close()
	}, nil
}

func (c *command) Start(ctx context.Context, f StartFlags) error {
	if c.global.APIUrl != "" {
		return c.startViaAPI(ctx, f)
	}
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	port := portOr(f.Port, m.Config().App.Port)
	pid, err := m.Start(ctx, appvisor.StartOptions{
		Port:          port,
		Background:    !f.Foreground,
		EnableLogging: !f.NoLogging,
		Restart:       f.Restart,
	})
	if err != nil {
		return err
	}
	if f.Foreground {
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "running (PID %d, port %d)\n", pid, port)
	_, _ = fmt.Fprintf(c.out, "  url:    http://localhost:%d\n", port)
	if !f.NoLogging {
		if out, errPath, err := m.LogPaths(port); err == nil {
			_, _ = fmt.Fprintf(c.out, "  stdout: %s\n  stderr: %s\n", out, errPath)
		}
	}
	return nil
}

func (c *command) Stop(ctx context.Context, f StopFlags) error {
	if c.global.APIUrl != "" {
		return c.stopViaAPI(ctx, f)
	}
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	port := portOr(f.Port, m.Config().App.Port)
	if err := m.Stop(ctx, port); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "stopped (port %d)\n", port)
	return nil
}

type detailedStatus struct {
	appvisor.Report
	Usage []appvisor.Usage `json:"usage,omitempty"`
}

func (c *command) Status(ctx context.Context, f StatusFlags) error {
	if c.global.APIUrl != "" {
		return c.statusViaAPI(ctx, f)
	}
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	port := portOr(f.Port, m.Config().App.Port)
	rep, err := m.Status(ctx, port)
	if err != nil {
		return err
	}
	st := detailedStatus{Report: rep}
	if f.Detailed {
		for _, in := range rep.Instances {
			if !in.Running {
				continue
			}
			u, err := m.Usage(ctx, in.PID)
			if err != nil {
				slog.Debug("sample usage", "pid", in.PID, "error", err)
				continue
			}
			st.Usage = append(st.Usage, u)
		}
	}
	if f.JSON {
		printJSON(c.out, st)
		return nil
	}
	c.printStatus(st)
	return nil
}

func (c *command) printStatus(st detailedStatus) {
	_, _ = fmt.Fprintf(c.out, "port %d: %s\n", st.Port, st.Message)
	if len(st.Instances) == 0 {
		_, _ = fmt.Fprintln(c.out, "no managed instances found")
		return
	}
	usage := make(map[int]appvisor.Usage, len(st.Usage))
	for _, u := range st.Usage {
		usage[u.PID] = u
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	if len(usage) > 0 {
		_, _ = fmt.Fprintln(tw, "PID\tPORT\tRUNNING\tCPU%\tMEM(MB)\tTHREADS\tSTARTED")
	} else {
		_, _ = fmt.Fprintln(tw, "PID\tPORT\tRUNNING")
	}
	for _, in := range st.Instances {
		if u, ok := usage[in.PID]; ok {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%t\t%.1f\t%.1f\t%d\t%s\n",
				in.PID, in.Port, in.Running, u.CPUPercent, u.MemoryMB, u.NumThreads, u.StartedAt.Format(time.RFC3339))
			continue
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%t\n", in.PID, in.Port, in.Running)
	}
	_ = tw.Flush()
}

func (c *command) Logs(ctx context.Context, f LogsFlags) error {
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	port := portOr(f.Port, m.Config().App.Port)
	err = m.Logs(ctx, port, f.Lines, f.Follow, c.out)
	if errors.Is(err, appvisor.ErrNoLogs) {
		_, _ = fmt.Fprintf(c.out, "no log files for port %d\n", port)
		return nil
	}
	return err
}

func (c *command) ClearLogs(f ClearLogsFlags) error {
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	port := portOr(f.Port, m.Config().App.Port)
	removed, err := m.ClearLogs(port)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		_, _ = fmt.Fprintf(c.out, "no log files for port %d\n", port)
		return nil
	}
	for _, p := range removed {
		_, _ = fmt.Fprintf(c.out, "removed %s\n", p)
	}
	return nil
}

func (c *command) Cleanup(ctx context.Context) error {
	if c.global.APIUrl != "" {
		return c.cleanupViaAPI(ctx)
	}
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	n := m.Cleanup(ctx)
	_, _ = fmt.Fprintf(c.out, "terminated %d orphaned instance(s)\n", n)
	return nil
}

// Serve runs the HTTP control API until ctx is cancelled.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	m, done, err := c.session()
	if err != nil {
		return err
	}
	defer done()

	srv, err := m.NewHTTPServer(f.Listen)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving control API", "addr", srv.Addr, "base_path", m.Config().Server.BasePath, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
