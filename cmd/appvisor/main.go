package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/appvisor/pkg/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRoot assembles the command tree writing to out and errOut.
func buildRoot(out, errOut io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	appvisorCommand := command{global: globalFlags, out: out, errOut: errOut}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.SetErr(errOut)
	root.AddCommand(
		createStartCommand(appvisorCommand),
		createStopCommand(appvisorCommand),
		createStatusCommand(appvisorCommand),
		createLogsCommand(appvisorCommand),
		createClearLogsCommand(appvisorCommand),
		createCleanupCommand(appvisorCommand),
		createServeCommand(appvisorCommand),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "appvisor",
		Short: "Application process lifecycle manager",
		Long: `appvisor starts, stops and reconciles one supervised application per TCP
port, tracking each instance with a marker and recovering from stale or
orphaned processes.

Examples:
  appvisor start                    # background start on the configured port
  appvisor start --port 8502 --foreground
  appvisor status --detailed
  appvisor logs --follow
  appvisor serve --listen 127.0.0.1:8700
  appvisor status --api-url http://host:8700/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default ./appvisor.toml when present)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "also write JSON logs to this rotated file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "drive a remote server instead (e.g. http://host:8700/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", client.DefaultTimeout, "remote request timeout")
	root.PersistentFlags().StringVar(&flags.APICACert, "api-ca-cert", "", "CA certificate for an https --api-url")
	root.PersistentFlags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS verification for --api-url")
	return root
}

func createStartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the application",
		Long: `Start the application on a port. A running instance is reused unless
--restart is given. Other managed instances are terminated first.

Examples:
  appvisor start
  appvisor start --port 8502 --restart
  appvisor start --foreground       # attached; Ctrl-C stops it`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to run on (default from config, 8501)")
	cmd.Flags().BoolVar(&f.Foreground, "foreground", false, "run attached to the terminal")
	cmd.Flags().BoolVar(&f.NoLogging, "no-logging", false, "do not write the application output to log files")
	cmd.Flags().BoolVar(&f.Restart, "restart", false, "stop a running instance first")
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port of the instance (default from config)")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the application status",
		Long: `Show the state of a port and every managed instance on this host.
A marker naming a dead process is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to report on (default from config)")
	cmd.Flags().BoolVar(&f.Detailed, "detailed", false, "include CPU and memory usage")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the application logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port of the instance (default from config)")
	cmd.Flags().IntVarP(&f.Lines, "lines", "n", 50, "number of lines to show")
	cmd.Flags().BoolVarP(&f.Follow, "follow", "f", false, "keep printing appended output")
	return cmd
}

func createClearLogsCommand(c command) *cobra.Command {
	f := &ClearLogsFlags{}
	cmd := &cobra.Command{
		Use:   "clear-logs",
		Short: "Delete the application log files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ClearLogs(*f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port of the instance (default from config)")
	return cmd
}

func createCleanupCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Terminate every managed instance on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Cleanup(cmd.Context())
		},
	}
}

func createServeCommand(c command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (default from config, 127.0.0.1:8700)")
	return cmd
}
