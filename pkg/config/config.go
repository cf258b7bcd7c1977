// Package config loads blueprint settings from a YAML file, BLUEPRINT_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/logging"
	"github.com/ormasoftchile/blueprint/pkg/providers"
)

const (
	// AppName is the config file base name searched for when no path is given.
	AppName = "blueprint"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "BLUEPRINT"
)

// Config is the full set of settings.
type Config struct {
	Log         logging.Config    `mapstructure:"log"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Store       StoreConfig       `mapstructure:"store"`
	Trace       TraceConfig       `mapstructure:"trace"`
	Serve       ServeConfig       `mapstructure:"serve"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// ExecutionConfig selects and tunes the execution mode.
type ExecutionConfig struct {
	Mode      string          `mapstructure:"mode"`
	Delegated DelegatedConfig `mapstructure:"delegated"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
}

type DelegatedConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type WorkflowConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	BackoffBase    float64       `mapstructure:"backoff_base"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	StateDir       string        `mapstructure:"state_dir"`
}

// ProviderConfig describes the browser sidecar.
type ProviderConfig struct {
	Command        string        `mapstructure:"command"`
	Args           []string      `mapstructure:"args"`
	Env            []string      `mapstructure:"env"`
	ReadySignal    string        `mapstructure:"ready_signal"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout"`
}

type CredentialsConfig struct {
	File string `mapstructure:"file"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type TraceConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServeConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
	v.SetDefault("log.file", "")

	v.SetDefault("execution.mode", string(mode.Direct))
	v.SetDefault("execution.delegated.endpoint", "")
	v.SetDefault("execution.delegated.token", "")
	v.SetDefault("execution.delegated.timeout", "5m")
	v.SetDefault("execution.workflow.max_attempts", mode.DefaultRetryPolicy.MaxAttempts)
	v.SetDefault("execution.workflow.initial_backoff", mode.DefaultRetryPolicy.InitialBackoff.String())
	v.SetDefault("execution.workflow.backoff_base", mode.DefaultRetryPolicy.BackoffBase)
	v.SetDefault("execution.workflow.max_backoff", mode.DefaultRetryPolicy.MaxBackoff.String())
	v.SetDefault("execution.workflow.max_parallel", 4)
	v.SetDefault("execution.workflow.state_dir", ".blueprint/workflows")

	v.SetDefault("provider.command", "")
	v.SetDefault("provider.args", []string{})
	v.SetDefault("provider.env", []string{})
	v.SetDefault("provider.ready_signal", "")
	v.SetDefault("provider.startup_timeout", "10s")
	v.SetDefault("provider.close_timeout", "5s")

	v.SetDefault("credentials.file", "")
	v.SetDefault("store.dir", ".blueprint/store")
	v.SetDefault("trace.dir", "")
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.token", "")
}

// Load reads configuration. An empty path searches the working directory
// and $HOME/.config/blueprint for blueprint.yaml; a missing file there is
// not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + AppName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch mode.Mode(c.Execution.Mode) {
	case mode.Direct, mode.Delegated, mode.Workflow:
	default:
		return fmt.Errorf("execution.mode: %w %q", mode.ErrUnknownMode, c.Execution.Mode)
	}
	if c.Execution.Workflow.MaxAttempts < 0 {
		return errors.New("execution.workflow.max_attempts must not be negative")
	}
	return nil
}

// RetryPolicy returns the workflow retry policy.
func (c *Config) RetryPolicy() mode.RetryPolicy {
	w := c.Execution.Workflow
	return mode.RetryPolicy{
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		BackoffBase:    w.BackoffBase,
		MaxBackoff:     w.MaxBackoff,
	}.WithDefaults()
}

// SidecarConfig returns the sidecar launch settings.
func (c *Config) SidecarConfig(log *zap.SugaredLogger) providers.SidecarConfig {
	p := c.Provider
	return providers.SidecarConfig{
		Command:        p.Command,
		Args:           p.Args,
		Env:            p.Env,
		ReadySignal:    p.ReadySignal,
		StartupTimeout: p.StartupTimeout,
		CloseTimeout:   p.CloseTimeout,
		Logger:         log,
	}
}

// Resolver loads the credentials file, or returns nil when none is set.
func (c *Config) Resolver() (provider.CredentialResolver, error) {
	if c.Credentials.File == "" {
		return nil, nil
	}
	r, err := provider.LoadStaticResolver(c.Credentials.File)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ModeConfig assembles the selector configuration. factory overrides the
// sidecar factory when non-nil (scenario replay); engine is required only
// for workflow mode.
func (c *Config) ModeConfig(factory provider.Factory, resolver provider.CredentialResolver, engine mode.WorkflowEngine, log *zap.SugaredLogger) mode.Config {
	if factory == nil && c.Provider.Command != "" {
		factory = providers.SidecarFactory(c.SidecarConfig(log))
	}
	d := c.Execution.Delegated
	return mode.Config{
		Mode: mode.Mode(c.Execution.Mode),
		Direct: mode.DirectConfig{
			Factory:  factory,
			Resolver: resolver,
			TraceDir: c.Trace.Dir,
		},
		Delegated: mode.DelegatedConfig{
			Endpoint: d.Endpoint,
			Token:    d.Token,
			Timeout:  d.Timeout,
		},
		Workflow: mode.WorkflowConfig{
			Engine:      engine,
			Retry:       c.RetryPolicy(),
			MaxParallel: c.Execution.Workflow.MaxParallel,
		},
	}
}
