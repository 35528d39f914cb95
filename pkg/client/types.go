package client

import (
	"fmt"
	"time"
)

// StartRequest selects the port and options of a detached start.
type StartRequest struct {
	Port    int   // 0 lets the server use its configured port
	Restart bool  // replace a running instance
	Logging *bool // nil keeps the server default (enabled)
}

// StartResponse reports the instance serving the port.
type StartResponse struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// Instance is one managed process seen by the server's scan.
type Instance struct {
	PID     int    `json:"pid"`
	Port    int    `json:"port,omitempty"`
	Cmdline string `json:"cmdline"`
	Running bool   `json:"running"`
}

// StatusReport is the state of one port.
type StatusReport struct {
	Port      int        `json:"port"`
	State     string     `json:"state"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	Message   string     `json:"message"`
	Instances []Instance `json:"instances"`
}

type cleanupResponse struct {
	Terminated int `json:"terminated"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-200 answer from the server. StatusCode distinguishes a
// port conflict (409), a missing runner (412) and a timeout (504).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// DefaultTimeout covers a start that waits out the server's startup timeout.
const DefaultTimeout = 60 * time.Second
