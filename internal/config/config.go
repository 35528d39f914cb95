package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/appvisor/internal/inspect"
	"github.com/loykin/appvisor/internal/logger"
	"github.com/loykin/appvisor/internal/registry"
	apptls "github.com/loykin/appvisor/internal/tls"
)

// EnvPrefix namespaces environment overrides, e.g. APPVISOR_APP_PORT.
const EnvPrefix = "APPVISOR"

// Config is the whole appvisor configuration.
type Config struct {
	App      AppConfig      `toml:"app" mapstructure:"app"`
	Registry RegistryConfig `toml:"registry" mapstructure:"registry"`
	Logs     LogsConfig     `toml:"logs" mapstructure:"logs"`
	Timeouts TimeoutsConfig `toml:"timeouts" mapstructure:"timeouts"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`

	// File is the config file actually read, empty when running on defaults.
	File string `toml:"-" mapstructure:"-"`
}

// AppConfig describes the supervised application and how to launch it.
// Args may reference {entry} (absolute entry-point path) and {port}.
type AppConfig struct {
	Port            int      `toml:"port" mapstructure:"port"`
	ProjectRoot     string   `toml:"project_root" mapstructure:"project_root"`
	AppDir          string   `toml:"app_dir" mapstructure:"app_dir"`
	EntryPoint      string   `toml:"entry_point" mapstructure:"entry_point"`
	Runner          string   `toml:"runner" mapstructure:"runner"`
	RunnerFallbacks []string `toml:"runner_fallbacks" mapstructure:"runner_fallbacks"`
	Args            []string `toml:"args" mapstructure:"args"`
	LaunchToken     string   `toml:"launch_token" mapstructure:"launch_token"`
	RunToken        string   `toml:"run_token" mapstructure:"run_token"`
	Env             []string `toml:"env" mapstructure:"env"`
	EnvFiles        []string `toml:"env_files" mapstructure:"env_files"`
}

type RegistryConfig struct {
	Type   string `toml:"type" mapstructure:"type"`
	Dir    string `toml:"dir" mapstructure:"dir"`
	Prefix string `toml:"prefix" mapstructure:"prefix"`
	Path   string `toml:"path" mapstructure:"path"`
}

type LogsConfig struct {
	Dir          string `toml:"dir" mapstructure:"dir"`
	Prefix       string `toml:"prefix" mapstructure:"prefix"`
	KeepPrevious bool   `toml:"keep_previous" mapstructure:"keep_previous"`
	MaxSizeMB    int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups   int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays   int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress     bool   `toml:"compress" mapstructure:"compress"`
}

type TimeoutsConfig struct {
	Startup      time.Duration `toml:"startup" mapstructure:"startup"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	StopGrace    time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	KillGrace    time.Duration `toml:"kill_grace" mapstructure:"kill_grace"`
	OrphanGrace  time.Duration `toml:"orphan_grace" mapstructure:"orphan_grace"`
	Probe        time.Duration `toml:"probe" mapstructure:"probe"`
}

type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

type ServerConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the control API over HTTPS. Explicit cert/key files win
// over dir; auto_generate writes a self-signed pair into dir.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 8501)
	v.SetDefault("app.project_root", ".")
	v.SetDefault("app.app_dir", "streamlit_app")
	v.SetDefault("app.entry_point", "main.py")
	v.SetDefault("app.runner", "uv")
	v.SetDefault("app.runner_fallbacks", []string{"~/.local/bin/uv", "~/.cargo/bin/uv", "/usr/local/bin/uv"})
	v.SetDefault("app.args", []string{
		"run", "streamlit", "run", "{entry}",
		"--server.port", "{port}",
		"--server.headless", "true",
		"--server.runOnSave", "false",
	})
	v.SetDefault("app.launch_token", "streamlit")
	v.SetDefault("app.run_token", "run")
	v.SetDefault("app.env", []string{})
	v.SetDefault("app.env_files", []string{})

	v.SetDefault("registry.type", "file")
	v.SetDefault("registry.dir", "")
	v.SetDefault("registry.prefix", registry.DefaultPrefix)
	v.SetDefault("registry.path", "")

	v.SetDefault("logs.dir", "")
	v.SetDefault("logs.prefix", logger.DefaultPrefix)
	v.SetDefault("logs.keep_previous", false)
	v.SetDefault("logs.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("logs.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("logs.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("logs.compress", false)

	v.SetDefault("timeouts.startup", 15*time.Second)
	v.SetDefault("timeouts.poll_interval", 500*time.Millisecond)
	v.SetDefault("timeouts.stop_grace", 3*time.Second)
	v.SetDefault("timeouts.kill_grace", time.Second)
	v.SetDefault("timeouts.orphan_grace", 3*time.Second)
	v.SetDefault("timeouts.probe", time.Second)

	v.SetDefault("history.dsns", []string{})
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("server.listen", "127.0.0.1:8700")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.3")
	v.SetDefault("server.tls.dns_names", []string{"localhost"})
}

// Load reads path (TOML) or, when path is empty, ./appvisor.toml if present,
// applies APPVISOR_* environment overrides, resolves derived paths and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("appvisor")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.File = v.ConfigFileUsed()
	if err := c.resolve(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve makes the project root absolute and fills paths derived from it.
// Relative paths elsewhere are taken relative to the project root.
func (c *Config) resolve() error {
	root, err := filepath.Abs(c.App.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	c.App.ProjectRoot = root
	under := func(p, def string) string {
		if p == "" {
			return def
		}
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Registry.Dir = under(c.Registry.Dir, root)
	c.Registry.Path = under(c.Registry.Path, filepath.Join(root, ".appvisor.db"))
	c.Logs.Dir = under(c.Logs.Dir, filepath.Join(root, "logs", "streamlit"))
	c.Metrics.Textfile = under(c.Metrics.Textfile, "")
	c.Server.TLS.CertFile = under(c.Server.TLS.CertFile, "")
	c.Server.TLS.KeyFile = under(c.Server.TLS.KeyFile, "")
	c.Server.TLS.Dir = under(c.Server.TLS.Dir, filepath.Join(root, ".appvisor", "tls"))

	var fileEnv []string
	for _, p := range c.App.EnvFiles {
		kv, err := LoadEnvFile(under(p, p))
		if err != nil {
			return fmt.Errorf("env file %s: %w", p, err)
		}
		fileEnv = append(fileEnv, kv...)
	}
	// explicit env entries override file entries
	c.App.Env = append(fileEnv, c.App.Env...)
	return nil
}

// Validate rejects configurations the controller cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port %d out of range", c.App.Port))
	}
	if !filepath.IsAbs(c.App.ProjectRoot) {
		errs = append(errs, fmt.Errorf("app.project_root %q is not absolute", c.App.ProjectRoot))
	}
	if c.App.EntryPoint == "" {
		errs = append(errs, errors.New("app.entry_point is empty"))
	}
	if c.App.Runner == "" {
		errs = append(errs, errors.New("app.runner is empty"))
	}
	if len(c.App.Args) == 0 {
		errs = append(errs, errors.New("app.args is empty"))
	}
	for name, d := range map[string]time.Duration{
		"startup":       c.Timeouts.Startup,
		"poll_interval": c.Timeouts.PollInterval,
		"stop_grace":    c.Timeouts.StopGrace,
		"kill_grace":    c.Timeouts.KillGrace,
		"orphan_grace":  c.Timeouts.OrphanGrace,
		"probe":         c.Timeouts.Probe,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// EntryPath is the absolute path of the application entry point.
func (c *Config) EntryPath() string {
	return filepath.Join(c.App.ProjectRoot, c.App.AppDir, c.App.EntryPoint)
}

// Signature is the process identity used to recognise managed instances.
func (c *Config) Signature() inspect.Signature {
	return inspect.Signature{
		LaunchToken: c.App.LaunchToken,
		RunToken:    c.App.RunToken,
		ProjectRoot: c.App.ProjectRoot,
		EntryPoint:  c.App.EntryPoint,
	}
}

func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		Type:   c.Registry.Type,
		Dir:    c.Registry.Dir,
		Prefix: c.Registry.Prefix,
		Path:   c.Registry.Path,
	}
}

func (c *Config) LogsConfig() logger.Config {
	return logger.Config{
		Dir:          c.Logs.Dir,
		Prefix:       c.Logs.Prefix,
		KeepPrevious: c.Logs.KeepPrevious,
		MaxSizeMB:    c.Logs.MaxSizeMB,
		MaxBackups:   c.Logs.MaxBackups,
		MaxAgeDays:   c.Logs.MaxAgeDays,
		Compress:     c.Logs.Compress,
	}
}

func (c *Config) TLSOptions() apptls.Options {
	return apptls.Options{
		Enabled:      c.Server.TLS.Enabled,
		CertFile:     c.Server.TLS.CertFile,
		KeyFile:      c.Server.TLS.KeyFile,
		Dir:          c.Server.TLS.Dir,
		AutoGenerate: c.Server.TLS.AutoGenerate,
		MinVersion:   c.Server.TLS.MinVersion,
		DNSNames:     c.Server.TLS.DNSNames,
	}
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries
// in file order.
func LoadEnvFile(path string) ([]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
