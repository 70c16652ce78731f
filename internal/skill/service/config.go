package service

import (
	"fmt"
	"os"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Route names the MCP server, and optionally the tool, serving a skill
type Route struct {
	Server string `yaml:"server" mapstructure:"server" json:"server"`
	Tool   string `yaml:"tool,omitempty" mapstructure:"tool" json:"tool,omitempty"`
}

// ToolName returns the tool to call for skill, defaulting to the skill name
func (r Route) ToolName(skill string) string {
	if r.Tool != "" {
		return r.Tool
	}
	return skill
}

// ServerConfig describes how to reach an MCP server
type ServerConfig struct {
	Type    string            `yaml:"type" mapstructure:"type" json:"type"`
	Command string            `yaml:"command,omitempty" mapstructure:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" mapstructure:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" mapstructure:"env" json:"env,omitempty"`
}

// Validate checks the server can be started
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type, validation.Required, validation.In("stdio")),
		validation.Field(&s.Command, validation.Required),
	)
}

// Environ renders Env as KEY=VALUE pairs in a stable order
func (s ServerConfig) Environ() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Config maps skills onto the MCP servers that serve them
type Config struct {
	Skills  map[string]Route        `yaml:"skills" mapstructure:"skills" json:"skills"`
	Servers map[string]ServerConfig `yaml:"servers" mapstructure:"servers" json:"servers"`
}

// Validate checks every server and that every route names a known server
func (c *Config) Validate() error {
	for name, srv := range c.Servers {
		if err := srv.Validate(); err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
	}
	for skill, route := range c.Skills {
		if route.Server == "" {
			return fmt.Errorf("skill %s: route has no server", skill)
		}
		if _, ok := c.Servers[route.Server]; !ok {
			return fmt.Errorf("skill %s: unknown server %s", skill, route.Server)
		}
	}
	return nil
}

// LoadConfig loads skill routing from a YAML file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}

	return config, nil
}

// Route returns the route for a skill
func (c *Config) Route(skillName string) (Route, bool) {
	route, exists := c.Skills[skillName]
	return route, exists
}

// DefaultConfig returns an empty configuration
func DefaultConfig() *Config {
	return &Config{
		Skills:  make(map[string]Route),
		Servers: make(map[string]ServerConfig),
	}
}
