package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig
	Ledger      LedgerConfig
	Redis       RedisConfig
	Reservation ReservationConfig
	Gateway     GatewayConfig
	HTTP        HTTPConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LedgerConfig selects the persistence backend.
type LedgerConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string
	// DSN is the sqlite path; ":memory:" for ephemeral runs.
	DSN string
}

type RedisConfig struct {
	// Enabled turns the availability read cache on.
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type ReservationConfig struct {
	// TTL bounds how long a hold survives without commit or release.
	TTL time.Duration
	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration
}

type GatewayConfig struct {
	// SimulatedLatency delays simulated charges, zero in tests.
	SimulatedLatency time.Duration
}

type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from config.toml and FULFILLMENT_-prefixed
// environment variables. Env vars win over the file; the file wins over
// defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	v.SetEnvPrefix("FULFILLMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Ledger: LedgerConfig{
			Driver: v.GetString("ledger.driver"),
			DSN:    v.GetString("ledger.dsn"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		Reservation: ReservationConfig{
			TTL:           v.GetDuration("reservation.ttl"),
			SweepInterval: v.GetDuration("reservation.sweep_interval"),
		},
		Gateway: GatewayConfig{
			SimulatedLatency: v.GetDuration("gateway.simulated_latency"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fulfillment")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.dsn", "fulfillment.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 30*time.Second)

	v.SetDefault("reservation.ttl", 15*time.Minute)
	v.SetDefault("reservation.sweep_interval", 30*time.Second)

	v.SetDefault("gateway.simulated_latency", 10*time.Millisecond)

	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
}

func (c *Config) validate() error {
	switch c.Ledger.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Reservation.TTL <= 0 {
		return fmt.Errorf("config: reservation ttl must be positive")
	}
	if c.Reservation.SweepInterval <= 0 {
		return fmt.Errorf("config: reservation sweep interval must be positive")
	}
	return nil
}
