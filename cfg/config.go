package cfg

import (
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// TenantConfiguration maps one company code to its data partition and
// presentation metadata. The slice order in the config file is preserved.
type TenantConfiguration struct {
	Code       string            `toml:"code"`
	SchemaName string            `toml:"schema_name"`
	Theme      map[string]string `toml:"theme"`
}

// SourceConfiguration for the Postgres notification source.
type SourceConfiguration struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	Database           string `toml:"database"`
	User               string `toml:"user"`
	Password           string `toml:"password"`
	SSLMode            string `toml:"ssl_mode"`
	ReconnectInitialMS int    `toml:"reconnect_initial_ms"` // Doubles per failed attempt
	ReconnectMaxMS     int    `toml:"reconnect_max_ms"`     // Backoff cap
}

// DSN builds a connection string for the configured source.
func (s SourceConfiguration) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.User, s.Password),
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:   s.Database,
	}
	q := url.Values{}
	if s.SSLMode != "" {
		q.Set("sslmode", s.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// QueueConfiguration controls the delivery queue between listener and router.
type QueueConfiguration struct {
	Capacity int `toml:"capacity"`
}

// WebSocketConfiguration for the subscriber transport.
type WebSocketConfiguration struct {
	BindAddress         string `toml:"bind_address"`
	Port                int    `toml:"port"`
	PingIntervalSeconds int    `toml:"ping_interval_seconds"` // Liveness probe cadence
	PongTimeoutSeconds  int    `toml:"pong_timeout_seconds"`  // Unresponsive beyond this = disconnected
	WriteTimeoutMS      int    `toml:"write_timeout_ms"`
	SendBuffer          int    `toml:"send_buffer"` // Per-connection outgoing queue
}

// HTTPConfiguration for the REST surface.
type HTTPConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// SinkConfiguration describes one external mirror destination.
type SinkConfiguration struct {
	Name           string   `toml:"name"`
	Type           string   `toml:"type"`   // "nats" or "kafka"
	Format         string   `toml:"format"` // "json" or "msgpack"
	TopicPrefix    string   `toml:"topic_prefix"`
	NatsURL        string   `toml:"nats_url"`
	Brokers        []string `toml:"brokers"`
	FilterTenants  []string `toml:"filter_tenants"`  // Glob patterns, empty = all
	FilterChannels []string `toml:"filter_channels"` // Glob patterns, empty = all
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure, loaded once at startup
// and passed explicitly to every component that needs it.
type Configuration struct {
	InstanceID uint64                `toml:"instance_id"`
	Tenants    []TenantConfiguration `toml:"tenants"`

	Source     SourceConfiguration     `toml:"source"`
	Queue      QueueConfiguration      `toml:"queue"`
	WebSocket  WebSocketConfiguration  `toml:"websocket"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	WSPortFlag     = flag.Int("ws-port", 0, "WebSocket port (overrides config)")
	HTTPPortFlag   = flag.Int("http-port", 0, "HTTP API port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate

		Source: SourceConfiguration{
			Host:               "localhost",
			Port:               5432,
			Database:           "notify_postgres",
			User:               "postgres",
			SSLMode:            "disable",
			ReconnectInitialMS: 1000,
			ReconnectMaxMS:     30000,
		},

		Queue: QueueConfiguration{
			Capacity: 1024,
		},

		WebSocket: WebSocketConfiguration{
			BindAddress:         "0.0.0.0",
			Port:                8090,
			PingIntervalSeconds: 20,
			PongTimeoutSeconds:  30,
			WriteTimeoutMS:      5000,
			SendBuffer:          64,
		},

		HTTP: HTTPConfiguration{
			BindAddress: "0.0.0.0",
			Port:        8080,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
	}
}

// Load reads the configuration file and applies CLI overrides.
func Load(configPath string) (*Configuration, error) {
	config := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, config); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *WSPortFlag != 0 {
		config.WebSocket.Port = *WSPortFlag
	}
	if *HTTPPortFlag != 0 {
		config.HTTP.Port = *HTTPPortFlag
	}
	if *VerboseFlag {
		config.Logging.Verbose = true
	}

	// Auto-generate instance ID if not set
	if config.InstanceID == 0 {
		var err error
		config.InstanceID, err = generateInstanceID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", config.InstanceID).Msg("Auto-generated instance ID")
	}

	return config, nil
}

// generateInstanceID creates a stable ID from the machine ID.
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("engrelay")
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(id), nil
}

// TenantByCode returns the tenant configuration for code.
func (c *Configuration) TenantByCode(code string) (TenantConfiguration, bool) {
	for _, t := range c.Tenants {
		if t.Code == code {
			return t, true
		}
	}
	return TenantConfiguration{}, false
}

// TenantCodes returns the configured codes in file order.
func (c *Configuration) TenantCodes() []string {
	return lo.Map(c.Tenants, func(t TenantConfiguration, _ int) string { return t.Code })
}

// Validate checks configuration for errors.
func (c *Configuration) Validate() error {
	if len(c.Tenants) == 0 {
		return fmt.Errorf("at least one tenant must be configured")
	}

	for _, t := range c.Tenants {
		if t.Code == "" {
			return fmt.Errorf("tenant code must not be empty")
		}
		if t.SchemaName == "" {
			return fmt.Errorf("tenant %s: schema name must not be empty", t.Code)
		}
	}
	codes := c.TenantCodes()
	if len(lo.Uniq(codes)) != len(codes) {
		return fmt.Errorf("duplicate tenant codes in configuration")
	}

	if c.Source.Host == "" {
		return fmt.Errorf("source host must not be empty")
	}
	if c.Source.Port < 1 || c.Source.Port > 65535 {
		return fmt.Errorf("invalid source port: %d", c.Source.Port)
	}
	if c.Source.ReconnectInitialMS < 1 {
		return fmt.Errorf("reconnect initial backoff must be >= 1ms")
	}
	if c.Source.ReconnectMaxMS < c.Source.ReconnectInitialMS {
		return fmt.Errorf("reconnect max backoff must be >= initial backoff")
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be >= 1")
	}

	if c.WebSocket.Port < 1 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("invalid websocket port: %d", c.WebSocket.Port)
	}
	if c.WebSocket.PingIntervalSeconds < 1 {
		return fmt.Errorf("websocket ping interval must be >= 1 second")
	}
	if c.WebSocket.PongTimeoutSeconds <= c.WebSocket.PingIntervalSeconds {
		return fmt.Errorf("websocket pong timeout must exceed ping interval")
	}
	if c.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("websocket send buffer must be >= 1")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	validSinkTypes := map[string]bool{"nats": true, "kafka": true}
	validFormats := map[string]bool{"": true, "json": true, "msgpack": true}
	for _, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name must not be empty")
		}
		if !validSinkTypes[s.Type] {
			return fmt.Errorf("sink %s: unknown type %q", s.Name, s.Type)
		}
		if !validFormats[s.Format] {
			return fmt.Errorf("sink %s: unknown format %q", s.Name, s.Format)
		}
		if s.Type == "nats" && s.NatsURL == "" {
			return fmt.Errorf("sink %s: nats sink requires nats_url", s.Name)
		}
		if s.Type == "kafka" && len(s.Brokers) == 0 {
			return fmt.Errorf("sink %s: kafka sink requires brokers", s.Name)
		}
	}

	return nil
}
