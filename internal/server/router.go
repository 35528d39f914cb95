package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/metrics"
)

// Controller is the part of the lifecycle controller the API drives.
type Controller interface {
	Start(ctx context.Context, o manager.StartOptions) (int, error)
	Stop(ctx context.Context, port int) error
	Status(ctx context.Context, port int) (manager.Report, error)
	Cleanup(ctx context.Context) int
}

// Router provides embeddable HTTP handlers for the controller.
// Endpoints:
//
//	POST {basePath}/start     query: port=8501&restart=false&logging=true
//	POST {basePath}/stop      query: port=8501
//	GET  {basePath}/status    query: port=8501
//	POST {basePath}/cleanup
//	GET  {basePath}/metrics   Prometheus exposition
//
// A missing port falls back to the router's default. Starts are always
// detached. basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl        Controller
	basePath    string
	defaultPort int
	locks       *portLocks
	log         *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/start, /api/stop, /api/status.
func NewRouter(ctrl Controller, basePath string, defaultPort int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ctrl:        ctrl,
		basePath:    sanitizeBase(basePath),
		defaultPort: defaultPort,
		locks:       newPortLocks(),
		log:         logger,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog)
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.POST("/cleanup", r.handleCleanup)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer builds an HTTP server for addr using this router. The caller
// runs ListenAndServe and Shutdown.
func NewServer(addr, basePath string, defaultPort int, ctrl Controller, logger *slog.Logger) *http.Server {
	r := NewRouter(ctrl, basePath, defaultPort, logger)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute, // a start may wait out the startup timeout
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startResp struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

type cleanupResp struct {
	Terminated int `json:"terminated"`
}

func (r *Router) accessLog(c *gin.Context) {
	began := time.Now()
	c.Next()
	r.log.Debug("api request", "method", c.Request.Method, "path", c.Request.URL.Path,
		"status", c.Writer.Status(), "elapsed", time.Since(began))
}

func (r *Router) handleStart(c *gin.Context) {
	port, ok := r.port(c)
	if !ok {
		return
	}
	restart, err := parseBool(c.Query("restart"), false)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid restart: " + err.Error()})
		return
	}
	logging, err := parseBool(c.Query("logging"), true)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid logging: " + err.Error()})
		return
	}

	// Start sweeps instances on every port.
	unlock := r.locks.lockAll()
	defer unlock()
	pid, err := r.ctrl.Start(c.Request.Context(), manager.StartOptions{
		Port:          port,
		Background:    true,
		EnableLogging: logging,
		Restart:       restart,
	})
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, startResp{Port: port, PID: pid})
}

func (r *Router) handleStop(c *gin.Context) {
	port, ok := r.port(c)
	if !ok {
		return
	}
	unlock := r.locks.lockAll()
	defer unlock()
	if err := r.ctrl.Stop(c.Request.Context(), port); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	port, ok := r.port(c)
	if !ok {
		return
	}
	unlock := r.locks.lock(port)
	defer unlock()
	rep, err := r.ctrl.Status(c.Request.Context(), port)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleCleanup(c *gin.Context) {
	unlock := r.locks.lockAll()
	defer unlock()
	n := r.ctrl.Cleanup(c.Request.Context())
	writeJSON(c, http.StatusOK, cleanupResp{Terminated: n})
}

// port reads the port query parameter, writing a 400 when it is invalid.
func (r *Router) port(c *gin.Context) (int, bool) {
	port, err := parsePort(c.Query("port"), r.defaultPort)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return 0, false
	}
	return port, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrPortConflict):
		return http.StatusConflict
	case errors.Is(err, manager.ErrPrerequisiteMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, manager.ErrLaunchTimeout), errors.Is(err, manager.ErrStopTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
