package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration, loaded once at startup.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Subjects SubjectsConfig `mapstructure:"subjects"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Health   HealthConfig   `mapstructure:"health"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SubjectsConfig names the three transport subjects the router consumes.
type SubjectsConfig struct {
	Telemetry string `mapstructure:"telemetry"`
	Alerts    string `mapstructure:"alerts"`
	Commands  string `mapstructure:"commands"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type WatchdogConfig struct {
	Period       time.Duration `mapstructure:"period"`
	OfflineAfter time.Duration `mapstructure:"offline_after"`
}

// AlertsConfig holds the alerts-enabled flag and the per-sensor operating
// bounds the threshold rules are built from.
type AlertsConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	Thresholds map[string]Bounds `mapstructure:"thresholds"`
}

// Bounds is an optional min/max pair for one sensor. A nil side is
// unbounded.
type Bounds struct {
	Min *float64 `mapstructure:"min"`
	Max *float64 `mapstructure:"max"`
}

type HealthConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads the configuration file from path (a directory containing
// config.yaml), applies defaults, and unmarshals the result. A missing file
// is not fatal; defaults are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("AQUAMETER")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "aquameter-hub")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.reconnect_wait", 5*time.Second)
	v.SetDefault("nats.connect_timeout", 10*time.Second)

	v.SetDefault("subjects.telemetry", "aquameter.telemetry")
	v.SetDefault("subjects.alerts", "aquameter.alerts")
	v.SetDefault("subjects.commands", "aquameter.commands")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("storage.path", "aquameter.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("watchdog.period", 30*time.Second)
	v.SetDefault("watchdog.offline_after", 60*time.Second)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.thresholds.ph.min", 6.5)
	v.SetDefault("alerts.thresholds.ph.max", 8.5)
	v.SetDefault("alerts.thresholds.tds.max", 5000.0)
	v.SetDefault("alerts.thresholds.temperature.min", 10.0)
	v.SetDefault("alerts.thresholds.temperature.max", 40.0)
	v.SetDefault("alerts.thresholds.flow_rate.max", 100.0)
	v.SetDefault("alerts.thresholds.salinity.max", 35.0)
	v.SetDefault("alerts.thresholds.voltage.min", 10.0)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.interval", 15*time.Second)
}
