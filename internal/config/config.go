package config

import (
	"fmt"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/hb-chen/skillexec/internal/deps"
	"github.com/hb-chen/skillexec/internal/sandbox"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skill/service"
)

var v = viper.New()

// Init resets the viper instance
func Init() {
	v = viper.New()
}

// Viper returns the viper instance
func Viper() *viper.Viper {
	return v
}

// Server configuration
type Server struct {
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
	GRPC GRPCConfig `mapstructure:"grpc" yaml:"grpc"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Log configuration
type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	Path  string `mapstructure:"path" yaml:"path"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`
}

// Skills configuration
type Skills struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Cache configuration of compiled artifacts
type Cache struct {
	MaxSize               int           `mapstructure:"max_size" yaml:"max_size"`
	TTL                   time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxConcurrentCompiles int64         `mapstructure:"max_concurrent_compiles" yaml:"max_concurrent_compiles"`
}

// Security configuration of the static audit
type Security struct {
	ComplexityCeiling int `mapstructure:"complexity_ceiling" yaml:"complexity_ceiling"`
}

// Dependencies is the module whitelist applied at compile time
type Dependencies struct {
	AllowRelative    bool     `mapstructure:"allow_relative" yaml:"allow_relative"`
	AllowedBuiltins  []string `mapstructure:"allowed_builtins" yaml:"allowed_builtins"`
	RestrictExternal bool     `mapstructure:"restrict_external" yaml:"restrict_external"`
	AllowedExternal  []string `mapstructure:"allowed_external" yaml:"allowed_external"`
}

// Executors configures fallback chains and service routing
type Executors struct {
	// Fallbacks replaces the default chains when set
	Fallbacks   map[string][]string `mapstructure:"fallbacks" yaml:"fallbacks"`
	Service     service.Config      `mapstructure:"service" yaml:"service"`
	// ServiceFile is a YAML routing file merged over Service
	ServiceFile string              `mapstructure:"service_file" yaml:"service_file"`
}

// Metrics configuration
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Tracing is used for execution observation
type Tracing struct {
	Enabled bool             `mapstructure:"enabled" yaml:"enabled"`
	Log     LogTracingConfig `mapstructure:"log" yaml:"log"`
	OTel    OTelConfig       `mapstructure:"otel" yaml:"otel"`
}

type LogTracingConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // minimal, standard, detailed
}

type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Config represents the application configuration
type Config struct {
	Server       Server         `mapstructure:"server" yaml:"server"`
	Log          Log            `mapstructure:"log" yaml:"log"`
	Skills       Skills         `mapstructure:"skills" yaml:"skills"`
	Sandbox      sandbox.Limits `mapstructure:"sandbox" yaml:"sandbox"`
	Cache        Cache          `mapstructure:"cache" yaml:"cache"`
	Security     Security       `mapstructure:"security" yaml:"security"`
	Dependencies Dependencies   `mapstructure:"dependencies" yaml:"dependencies"`
	Executors    Executors      `mapstructure:"executors" yaml:"executors"`
	Metrics      Metrics        `mapstructure:"metrics" yaml:"metrics"`
	Tracing      Tracing        `mapstructure:"tracing" yaml:"tracing"`
}

// LoadConfig loads configuration from viper
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := Viper().Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.GRPC.Addr == "" {
		cfg.Server.GRPC.Addr = ":8081"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = "./log"
	}
	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = "./skills"
	}

	defaults := sandbox.DefaultLimits()
	if cfg.Sandbox.ExecutionTimeoutMs == 0 {
		cfg.Sandbox.ExecutionTimeoutMs = defaults.ExecutionTimeoutMs
	}
	if cfg.Sandbox.MemoryLimitMB == 0 {
		cfg.Sandbox.MemoryLimitMB = defaults.MemoryLimitMB
	}

	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 100
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}
	if cfg.Cache.MaxConcurrentCompiles == 0 {
		cfg.Cache.MaxConcurrentCompiles = 4
	}
	if cfg.Security.ComplexityCeiling == 0 {
		cfg.Security.ComplexityCeiling = 200
	}
	if !Viper().IsSet("dependencies.allowed_builtins") {
		cfg.Dependencies.AllowedBuiltins = slices.Clone(deps.DefaultBuiltins)
	}

	if cfg.Executors.Service.Skills == nil {
		cfg.Executors.Service.Skills = make(map[string]service.Route)
	}
	if cfg.Executors.Service.Servers == nil {
		cfg.Executors.Service.Servers = make(map[string]service.ServerConfig)
	}
	if cfg.Executors.ServiceFile != "" {
		routes, err := service.LoadConfig(cfg.Executors.ServiceFile)
		if err != nil {
			return nil, err
		}
		for k, r := range routes.Skills {
			cfg.Executors.Service.Skills[k] = r
		}
		for k, s := range routes.Servers {
			cfg.Executors.Service.Servers[k] = s
		}
	}

	// Only set defaults if keys were not explicitly set in config
	if !Viper().IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = true
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "skillexec"
	}
	if !Viper().IsSet("tracing.enabled") {
		cfg.Tracing.Enabled = true
	}
	if cfg.Tracing.Log.Level == "" {
		cfg.Tracing.Log.Level = "standard"
	}
	if cfg.Tracing.OTel.Endpoint == "" {
		cfg.Tracing.OTel.Endpoint = "localhost:4317"
	}
	if cfg.Tracing.OTel.ServiceName == "" {
		cfg.Tracing.OTel.ServiceName = "skillexec"
	}
	if !Viper().IsSet("tracing.otel.sample_rate") {
		cfg.Tracing.OTel.SampleRate = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if err := c.Executors.Service.Validate(); err != nil {
		return fmt.Errorf("executors.service: %w", err)
	}
	if _, err := c.Executors.FallbackChains(); err != nil {
		return fmt.Errorf("executors.fallbacks: %w", err)
	}
	if err := validation.Validate(c.Skills.Dir, validation.Required); err != nil {
		return fmt.Errorf("skills.dir: %w", err)
	}
	if err := validation.ValidateStruct(&c.Cache,
		validation.Field(&c.Cache.MaxSize, validation.Min(1)),
		validation.Field(&c.Cache.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.Cache.MaxConcurrentCompiles, validation.Min(int64(1))),
	); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := validation.ValidateStruct(&c.Security,
		validation.Field(&c.Security.ComplexityCeiling, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := validation.ValidateStruct(&c.Tracing.Log,
		validation.Field(&c.Tracing.Log.Level, validation.In("minimal", "standard", "detailed")),
	); err != nil {
		return fmt.Errorf("tracing.log: %w", err)
	}
	if err := validation.ValidateStruct(&c.Tracing.OTel,
		validation.Field(&c.Tracing.OTel.SampleRate, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return fmt.Errorf("tracing.otel: %w", err)
	}
	return nil
}

// FallbackChains converts the configured fallbacks to executor types. A nil
// map means the defaults apply.
func (e Executors) FallbackChains() (map[skill.ExecutorType][]skill.ExecutorType, error) {
	if e.Fallbacks == nil {
		return nil, nil
	}
	chains := make(map[skill.ExecutorType][]skill.ExecutorType, len(e.Fallbacks))
	for from, to := range e.Fallbacks {
		t := skill.ExecutorType(from)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown executor type: %s", from)
		}
		chain := make([]skill.ExecutorType, 0, len(to))
		for _, name := range to {
			next := skill.ExecutorType(name)
			if !next.Valid() {
				return nil, fmt.Errorf("unknown executor type: %s", name)
			}
			chain = append(chain, next)
		}
		chains[t] = chain
	}
	return chains, nil
}
