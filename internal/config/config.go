package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for one robotd process: the front-end
// listeners, the persona every session plans and speaks as, the LLM
// backend, the MCP servers sessions call tools against, and the ambient
// bus/observability tuning.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Persona       PersonaConfig       `yaml:"persona"`
	LLM           LLMConfig           `yaml:"llm"`
	MCPServers    []MCPServerConfig   `yaml:"mcp_servers"`
	Bus           BusConfig           `yaml:"bus"`
	Routes        map[string][]string `yaml:"routes"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the front-end listeners cmd/robotd starts.
type ServerConfig struct {
	// TCPAddr is the address the line-based front-end listens on, e.g. ":4455".
	TCPAddr string `yaml:"tcp_addr"`

	// HTTPAddr is the address the HTTP/SSE web console listens on. Empty
	// disables it.
	HTTPAddr string `yaml:"http_addr"`
}

// PersonaConfig names the identity every session's decision engine and
// intent gate plan and speak as.
type PersonaConfig struct {
	Name  string `yaml:"name"`
	Style string `yaml:"style"`
}

// LLMConfig points at the OpenAI-compatible chat completions backend every
// session's planning, resolution, perception, and intent calls share.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// MCPServerConfig describes one MCP server a session's client dials.
type MCPServerConfig struct {
	Name    string        `yaml:"name"`
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// BusConfig tunes the process-wide input/output broadcast buffers.
type BusConfig struct {
	InputCapacity  int `yaml:"input_capacity"`
	OutputCapacity int `yaml:"output_capacity"`
}

// ObservabilityConfig configures structured logging, Prometheus metrics,
// and OpenTelemetry tracing.
type ObservabilityConfig struct {
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleFraction float64 `yaml:"sample_fraction"`
}

// NewDefaultConfig returns a Config with every field defaulted, for running
// robotd purely off environment variables with no config file at all.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	applyLLMEnvOverrides(cfg)
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.TCPAddr == "" {
		c.Server.TCPAddr = ":4455"
	}
	if c.Persona.Name == "" {
		c.Persona.Name = "Robot"
	}
	if c.Persona.Style == "" {
		c.Persona.Style = "helpful and terse"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:1234"
	}
	if c.Bus.InputCapacity <= 0 {
		c.Bus.InputCapacity = 256
	}
	if c.Bus.OutputCapacity <= 0 {
		c.Bus.OutputCapacity = 256
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "robotd"
	}
	if c.Observability.Tracing.SampleFraction <= 0 {
		c.Observability.Tracing.SampleFraction = 1
	}
	for i := range c.MCPServers {
		if c.MCPServers[i].Timeout <= 0 {
			c.MCPServers[i].Timeout = 30 * time.Second
		}
	}
}

// Validate reports structural problems Load's defaults can't paper over.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.MCPServers))
	for _, s := range c.MCPServers {
		if s.Name == "" {
			return fmt.Errorf("mcp_servers: entry missing name")
		}
		if s.Address == "" {
			return fmt.Errorf("mcp_servers: %s missing address", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("mcp_servers: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}
	for source, handlers := range c.Routes {
		if len(handlers) == 0 {
			return fmt.Errorf("routes: %q has an empty handler list", source)
		}
	}
	return nil
}
