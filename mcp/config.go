// MCP server configuration file support.
//
// Supports Anthropic-style MCP configuration format:
//
//	{
//	  "mcpServers": {
//	    "filesystem": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
//	    }
//	  }
//	}
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &config, nil
}

// Validate reports every server entry that has no command.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Names() {
		if strings.TrimSpace(c.MCPServers[name].Command) == "" {
			errs = append(errs, fmt.Errorf("server %q: command is required", name))
		}
	}
	return errors.Join(errs...)
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add registers a server given as a single command line, as passed to the
// --mcp flag. The first field of the command names the server.
func (c *Config) Add(commandLine string) error {
	sc, err := ParseCommand(commandLine)
	if err != nil {
		return err
	}
	if c.MCPServers == nil {
		c.MCPServers = make(map[string]ServerConfig)
	}
	name := sc.Command
	for i := 2; ; i++ {
		if _, taken := c.MCPServers[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s-%d", sc.Command, i)
	}
	c.MCPServers[name] = sc
	return nil
}

// ParseCommand splits "command arg1 arg2" on whitespace.
func ParseCommand(commandLine string) (ServerConfig, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return ServerConfig{}, errors.New("empty MCP server command")
	}
	return ServerConfig{Command: fields[0], Args: fields[1:]}, nil
}

// Environ renders Env as KEY=VALUE pairs in sorted key order.
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

// String returns the server's command line.
func (s ServerConfig) String() string {
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}
