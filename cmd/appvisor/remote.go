package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/appvisor/pkg/client"
)

func (c *command) apiClient() (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  c.global.APIUrl,
		Timeout:  c.global.APITimeout,
		Logger:   slog.New(slog.DiscardHandler),
		Insecure: c.global.APIInsecure,
	}
	if c.global.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.global.APICACert}
	}
	return client.New(cfg)
}

// startViaAPI starts the application using the server API
func (c *command) startViaAPI(ctx context.Context, f StartFlags) error {
	if f.Foreground {
		return errors.New("--foreground cannot be used with --api-url")
	}
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	logging := !f.NoLogging
	resp, err := api.Start(ctx, client.StartRequest{Port: f.Port, Restart: f.Restart, Logging: &logging})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "running (PID %d, port %d)\n", resp.PID, resp.Port)
	return nil
}

// stopViaAPI stops the application using the server API
func (c *command) stopViaAPI(ctx context.Context, f StopFlags) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	if err := api.Stop(ctx, f.Port); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "stopped")
	return nil
}

// statusViaAPI gets status using the server API; --detailed is not
// available remotely.
func (c *command) statusViaAPI(ctx context.Context, f StatusFlags) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	rep, err := api.Status(ctx, f.Port)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, rep)
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "port %d: %s\n", rep.Port, rep.Message)
	for _, in := range rep.Instances {
		_, _ = fmt.Fprintf(c.out, "  PID %d  port %d  running=%t\n", in.PID, in.Port, in.Running)
	}
	return nil
}

func (c *command) cleanupViaAPI(ctx context.Context) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	n, err := api.Cleanup(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "terminated %d orphaned instance(s)\n", n)
	return nil
}
