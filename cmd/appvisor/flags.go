package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags are persistent on the root command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
	// remote server; empty means act on this host directly
	APIUrl      string
	APITimeout  time.Duration
	APICACert   string // trust this CA for an https server
	APIInsecure bool   // skip certificate verification
}

type StartFlags struct {
	Port       int // 0 means the configured port
	Foreground bool
	NoLogging  bool
	Restart    bool
}

type StopFlags struct {
	Port int
}

type StatusFlags struct {
	Port     int
	Detailed bool // include per-process resource usage
	JSON     bool
}

type LogsFlags struct {
	Port   int
	Lines  int
	Follow bool
}

type ClearLogsFlags struct {
	Port int
}

type ServeFlags struct {
	Listen string
}
