package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Orders  OrdersConfig  `mapstructure:"orders"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Path string `mapstructure:"path"` // websocket endpoint
	Env  string `mapstructure:"env"`  // e.g., "local", "prod"
}

type GatewayConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	MaxMissedHeartbeats int           `mapstructure:"max_missed_heartbeats"`
	SendBuffer          int           `mapstructure:"send_buffer"`
	SendTimeout         time.Duration `mapstructure:"send_timeout"`
	WriteWait           time.Duration `mapstructure:"write_wait"`
	MaxMessageSize      int64         `mapstructure:"max_message_size"`
	CatalogueFile       string        `mapstructure:"catalogue_file"`
}

type OrdersConfig struct {
	FillDelay time.Duration `mapstructure:"fill_delay"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`    // debug, info, warn, error
	Encoding string `mapstructure:"encoding"` // json or console
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "gateway.tick_interval" -> "GATEWAY_TICK_INTERVAL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flat env vars only reach nested structs through explicit bindings
	bindEnv(v, "app.port", "app.path", "app.env")
	bindEnv(v, "gateway.tick_interval", "gateway.heartbeat_interval", "gateway.max_missed_heartbeats",
		"gateway.send_buffer", "gateway.send_timeout", "gateway.write_wait",
		"gateway.max_message_size", "gateway.catalogue_file")
	bindEnv(v, "orders.fill_delay")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.ttl")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")
	bindEnv(v, "logger.level", "logger.encoding")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8081")
	v.SetDefault("app.path", "/ws")
	v.SetDefault("app.env", "local")

	v.SetDefault("gateway.tick_interval", time.Second)
	v.SetDefault("gateway.heartbeat_interval", 30*time.Second)
	v.SetDefault("gateway.max_missed_heartbeats", 3)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.send_timeout", 100*time.Millisecond)
	v.SetDefault("gateway.write_wait", 5*time.Second)
	v.SetDefault("gateway.max_message_size", 512*1024)
	v.SetDefault("gateway.catalogue_file", "")

	v.SetDefault("orders.fill_delay", 500*time.Millisecond)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "order_events")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
}

// Validate checks the values the gateway cannot run without.
func (c *Config) Validate() error {
	if c.App.Port == "" {
		return fmt.Errorf("app.port cannot be empty")
	}
	if !strings.HasPrefix(c.App.Path, "/") {
		return fmt.Errorf("app.path must start with '/', got %q", c.App.Path)
	}
	if c.Gateway.TickInterval <= 0 {
		return fmt.Errorf("gateway.tick_interval must be > 0")
	}
	if c.Gateway.HeartbeatInterval <= 0 {
		return fmt.Errorf("gateway.heartbeat_interval must be > 0")
	}
	if c.Gateway.MaxMissedHeartbeats < 1 {
		return fmt.Errorf("gateway.max_missed_heartbeats must be >= 1")
	}
	if c.Gateway.SendBuffer < 1 {
		return fmt.Errorf("gateway.send_buffer must be >= 1")
	}
	if c.Gateway.SendTimeout <= 0 {
		return fmt.Errorf("gateway.send_timeout must be > 0")
	}
	if c.Gateway.WriteWait <= 0 {
		return fmt.Errorf("gateway.write_wait must be > 0")
	}
	if c.Gateway.MaxMessageSize <= 0 {
		return fmt.Errorf("gateway.max_message_size must be > 0")
	}
	if c.Orders.FillDelay <= 0 {
		return fmt.Errorf("orders.fill_delay must be > 0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
