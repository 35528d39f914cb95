package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func parsePort(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: want 1-65535", s)
	}
	return port, nil
}

func parseBool(s string, def bool) (bool, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return strconv.ParseBool(s)
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// portLocks serialises requests per port. Start, stop and cleanup sweep
// managed instances on every port and take lockAll instead.
type portLocks struct {
	all   sync.RWMutex
	mu    sync.Mutex
	ports map[int]*sync.Mutex
}

func newPortLocks() *portLocks {
	return &portLocks{ports: make(map[int]*sync.Mutex)}
}

func (l *portLocks) lock(port int) func() {
	l.all.RLock()
	l.mu.Lock()
	m, ok := l.ports[port]
	if !ok {
		m = &sync.Mutex{}
		l.ports[port] = m
	}
	l.mu.Unlock()
	m.Lock()
	return func() {
		m.Unlock()
		l.all.RUnlock()
	}
}

func (l *portLocks) lockAll() func() {
	l.all.Lock()
	return l.all.Unlock
}
