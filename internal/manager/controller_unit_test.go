package manager

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/inspect"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/registry"
)

type fakeFinder struct {
	insts []inspect.Instance
	err   error
}

func (f *fakeFinder) FindManaged(context.Context) ([]inspect.Instance, error) {
	return f.insts, f.err
}

func (f *fakeFinder) FindManagedWithPorts(context.Context) ([]inspect.Instance, error) {
	var out []inspect.Instance
	for _, in := range f.insts {
		if in.Port > 0 {
			out = append(out, in)
		}
	}
	return out, f.err
}

type fakeProber struct {
	available bool
	calls     int
}

func (p *fakeProber) IsPortAvailable(context.Context, int) bool {
	p.calls++
	return p.available
}

type noLogs struct{}

func (noLogs) Open(int) (*os.File, *os.File, error) {
	return nil, nil, errors.New("no log channels")
}

func (noLogs) Writers(int) (io.WriteCloser, io.WriteCloser, error) {
	return nil, nil, errors.New("no log channels")
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []history.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newFakeController(t *testing.T, f *fakeFinder, p *fakeProber) (*Controller, *registry.MemoryStore, *recordingSink) {
	t.Helper()
	reg := registry.NewMemoryStore()
	sink := &recordingSink{}
	c, err := New(Options{
		Registry: reg,
		Finder:   f,
		Prober:   p,
		Logs:     noLogs{},
		Launch:   Launch{Runner: "appvisor-no-such-runner"},
		History:  sink,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c, reg, sink
}

func TestNewRequiresCollaborators(t *testing.T) {
	full := Options{
		Registry: registry.NewMemoryStore(),
		Finder:   &fakeFinder{},
		Prober:   &fakeProber{},
		Logs:     noLogs{},
		Launch:   Launch{Runner: "uv"},
	}
	_, err := New(full)
	require.NoError(t, err)

	for name, mut := range map[string]func(*Options){
		"registry": func(o *Options) { o.Registry = nil },
		"finder":   func(o *Options) { o.Finder = nil },
		"prober":   func(o *Options) { o.Prober = nil },
		"logs":     func(o *Options) { o.Logs = nil },
		"runner":   func(o *Options) { o.Launch.Runner = "" },
	} {
		o := full
		mut(&o)
		_, err := New(o)
		assert.Error(t, err, name)
	}
}

func TestTimeoutsWithDefaults(t *testing.T) {
	got := Timeouts{StopGrace: 7}.withDefaults()
	d := DefaultTimeouts()
	assert.EqualValues(t, 7, got.StopGrace)
	assert.Equal(t, d.Startup, got.Startup)
	assert.Equal(t, d.PollInterval, got.PollInterval)
	assert.Equal(t, d.KillGrace, got.KillGrace)
	assert.Equal(t, d.OrphanGrace, got.OrphanGrace)
}

func TestLaunchArgsPlaceholders(t *testing.T) {
	l := Launch{
		Args:  []string{"run", "streamlit", "run", "{entry}", "--server.port", "{port}", "--label={port}"},
		Entry: "/srv/app/main.py",
	}
	assert.Equal(t,
		[]string{"run", "streamlit", "run", "/srv/app/main.py", "--server.port", "8502", "--label=8502"},
		l.args(8502))
	assert.Equal(t, []string{"run", "{entry}"}, l.Args[2:4], "template must not be modified")
}

func TestStartRejectsInvalidPort(t *testing.T) {
	c, _, _ := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})
	for _, port := range []int{0, -1, 70000} {
		_, err := c.Start(context.Background(), StartOptions{Port: port, Background: true})
		assert.Error(t, err, "port %d", port)
	}
}

func TestStartAdoptsScannedInstance(t *testing.T) {
	self := os.Getpid()
	f := &fakeFinder{insts: []inspect.Instance{
		{PID: 11, Port: 9000, Cmdline: "streamlit run main.py --server.port 9000"},
		{PID: self, Port: 8501, Cmdline: "streamlit run main.py --server.port 8501"},
	}}
	p := &fakeProber{available: true}
	c, reg, sink := newFakeController(t, f, p)

	pid, err := c.Start(context.Background(), StartOptions{Port: 8501, Background: true})
	require.NoError(t, err)
	assert.Equal(t, self, pid)
	got, ok := reg.Read(8501)
	require.True(t, ok)
	assert.Equal(t, self, got)
	assert.Zero(t, p.calls, "adoption must not probe the port")
	assert.Equal(t, []history.EventType{history.EventAdopt}, sink.types())
}

func TestStartReturnsRegisteredLiveInstance(t *testing.T) {
	p := &fakeProber{available: true}
	c, reg, sink := newFakeController(t, &fakeFinder{}, p)
	require.NoError(t, reg.Write(8501, os.Getpid()))

	pid, err := c.Start(context.Background(), StartOptions{Port: 8501, Background: true})
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Zero(t, p.calls)
	assert.Empty(t, sink.types())
}

func TestStartPortConflictWithFakeProber(t *testing.T) {
	c, reg, _ := newFakeController(t, &fakeFinder{}, &fakeProber{available: false})

	_, err := c.Start(context.Background(), StartOptions{Port: 8501, Background: true})
	require.ErrorIs(t, err, ErrPortConflict)
	_, ok := reg.Read(8501)
	assert.False(t, ok)
}

func TestStartMissingRunnerAfterFreePort(t *testing.T) {
	c, _, _ := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})

	_, err := c.Start(context.Background(), StartOptions{Port: 8501, Background: true})
	require.ErrorIs(t, err, ErrPrerequisiteMissing)
}

func TestStartToleratesScanFailure(t *testing.T) {
	f := &fakeFinder{err: errors.New("process table unavailable")}
	c, _, _ := newFakeController(t, f, &fakeProber{available: false})

	_, err := c.Start(context.Background(), StartOptions{Port: 8501, Background: true})
	require.ErrorIs(t, err, ErrPortConflict)
}

func TestStopWithoutMarker(t *testing.T) {
	c, reg, sink := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})

	require.NoError(t, c.Stop(context.Background(), 8501))
	_, ok := reg.Read(8501)
	assert.False(t, ok)
	assert.Empty(t, sink.types())
}

func TestStatusWithFakes(t *testing.T) {
	self := os.Getpid()
	f := &fakeFinder{}
	c, reg, _ := newFakeController(t, f, &fakeProber{available: true})
	ctx := context.Background()

	rep, err := c.Status(ctx, 8501)
	require.NoError(t, err)
	assert.Equal(t, StateUnmanaged, rep.State)
	assert.Empty(t, rep.Instances)

	require.NoError(t, reg.Write(8501, self))
	rep, err = c.Status(ctx, 8501)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, rep.State)
	assert.Equal(t, self, rep.PID)

	require.NoError(t, reg.Remove(8501))
	f.insts = []inspect.Instance{{PID: self, Port: 8501, Cmdline: "streamlit run main.py --server.port 8501"}}
	rep, err = c.Status(ctx, 8501)
	require.NoError(t, err)
	assert.Equal(t, StateOrphaned, rep.State)
	assert.True(t, rep.Running)
	assert.Equal(t, StateOrphaned, c.State(ctx, 8501))
	require.Len(t, rep.Instances, 1)
	assert.True(t, rep.Instances[0].Running)
}

func TestLaunchErrorUnwraps(t *testing.T) {
	err := error(&LaunchError{Port: 8501, PID: 42, Err: ErrLaunchTimeout})
	assert.ErrorIs(t, err, ErrLaunchTimeout)
	assert.Contains(t, err.Error(), "pid 42")
}

// stubbornProcs reports every pid alive and never sees it exit. Signals are
// recorded and answered with signalErr.
type stubbornProcs struct {
	mu        sync.Mutex
	sent      []syscall.Signal
	signalErr error
}

func (s *stubbornProcs) procs() osProcs {
	return osProcs{
		alive:   func(int) bool { return true },
		groupOf: func(pid int) (int, error) { return pid, nil },
		signal: func(_, _ int, sig syscall.Signal) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sent = append(s.sent, sig)
			return s.signalErr
		},
		waitExit: func(context.Context, int, time.Duration) bool { return false },
	}
}

func (s *stubbornProcs) signals() []syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]syscall.Signal(nil), s.sent...)
}

func TestStopKeepsMarkerWhenInstanceSurvivesKill(t *testing.T) {
	c, reg, sink := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})
	sp := &stubbornProcs{}
	c.procs = sp.procs()
	require.NoError(t, reg.Write(8501, 4242))

	err := c.Stop(context.Background(), 8501)
	require.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, []syscall.Signal{process.SigTerm, process.SigKill}, sp.signals())

	pid, ok := reg.Read(8501)
	require.True(t, ok, "marker must survive a failed stop")
	assert.Equal(t, 4242, pid)
	assert.Equal(t, []history.EventType{history.EventStopFailed}, sink.types())
}

func TestStopKeepsMarkerWhenSignallingFails(t *testing.T) {
	c, reg, sink := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})
	sp := &stubbornProcs{signalErr: syscall.EPERM}
	c.procs = sp.procs()
	require.NoError(t, reg.Write(8501, 4242))

	err := c.Stop(context.Background(), 8501)
	require.ErrorIs(t, err, syscall.EPERM)
	assert.NotErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, []syscall.Signal{process.SigTerm}, sp.signals())

	_, ok := reg.Read(8501)
	assert.True(t, ok, "marker must survive a failed stop")
	assert.Equal(t, []history.EventType{history.EventStopFailed}, sink.types())
}

func TestInitPidMarkerIsStale(t *testing.T) {
	c, reg, sink := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})
	sp := &stubbornProcs{}
	c.procs = sp.procs()
	ctx := context.Background()

	require.NoError(t, reg.Write(8501, 1))
	assert.Equal(t, StateStale, c.State(ctx, 8501))

	require.NoError(t, c.Stop(ctx, 8501))
	assert.Empty(t, sp.signals(), "init must never be signalled")
	_, ok := reg.Read(8501)
	assert.False(t, ok, "marker naming init is purged")
	assert.Equal(t, []history.EventType{history.EventStale}, sink.types())

	require.NoError(t, reg.Write(8501, 1))
	rep, err := c.Status(ctx, 8501)
	require.NoError(t, err)
	assert.Equal(t, StateStale, rep.State)
	assert.False(t, rep.Running)
}

func TestStartIgnoresInitPidMarker(t *testing.T) {
	c, reg, _ := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})
	sp := &stubbornProcs{}
	c.procs = sp.procs()
	require.NoError(t, reg.Write(8501, 1))

	_, err := c.Start(context.Background(), StartOptions{Port: 8501, Background: true})
	require.ErrorIs(t, err, ErrPrerequisiteMissing, "pid 1 must not be adopted")
	assert.Empty(t, sp.signals())
	_, ok := reg.Read(8501)
	assert.False(t, ok)
}

func TestStatusReportsEmptyInstanceList(t *testing.T) {
	c, _, _ := newFakeController(t, &fakeFinder{}, &fakeProber{available: true})

	rep, err := c.Status(context.Background(), 8501)
	require.NoError(t, err)
	b, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"instances":[]`)
}
