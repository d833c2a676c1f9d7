// Package config loads this process's room server configuration, the way
// the teacher's config package loads its signaling server configuration:
// a YAML file selected by CONFIG_ENV, defaults set up front, everything
// unmarshaled into one struct via mapstructure.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is this process's full configuration (spec.md §6, expanded per
// SPEC_FULL.md §7 with the process-identity, backend-selection, and
// admin-surface fields a deployable room server needs).
type Config struct {
	ProcessID     string `mapstructure:"process_id"`
	PublicAddress string `mapstructure:"public_address"`
	DevMode       bool   `mapstructure:"dev_mode"`

	PresenceBackend string `mapstructure:"presence_backend"` // "local" | "nats"
	NatsURL         string `mapstructure:"nats_url"`

	DriverBackend string `mapstructure:"driver_backend"` // "local" | "distributed"

	AdminAddr string `mapstructure:"admin_addr"`

	DefaultPatchRateMS            int `mapstructure:"default_patch_rate_ms"`
	DefaultSeatReservationSeconds int `mapstructure:"default_seat_reservation_seconds"`

	HealthChecks          bool          `mapstructure:"health_checks"`
	GracefulShutdownWindow time.Duration `mapstructure:"graceful_shutdown_window"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (default "dev"), falling back
// to defaults when the file is absent, matching the teacher's config.Load
// shape.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("process_id", "")
	v.SetDefault("public_address", "localhost:2567")
	v.SetDefault("dev_mode", false)
	v.SetDefault("presence_backend", "local")
	v.SetDefault("nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("driver_backend", "local")
	v.SetDefault("admin_addr", ":2568")
	v.SetDefault("default_patch_rate_ms", 50)
	v.SetDefault("default_seat_reservation_seconds", 15)
	v.SetDefault("health_checks", true)
	v.SetDefault("graceful_shutdown_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if cfg.ProcessID == "" {
		cfg.ProcessID = uuid.NewString()
	}
	fmt.Printf("processId: %s | presence: %s | driver: %s | admin: %s\n",
		cfg.ProcessID, cfg.PresenceBackend, cfg.DriverBackend, cfg.AdminAddr)
	return &cfg, nil
}
