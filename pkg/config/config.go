// Package config loads the traffic server configuration from a YAML file, the environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

// EnvPrefix prefixes every environment override, e.g. TRAFFIC_SERVER_ADDR.
const EnvPrefix = "TRAFFIC"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Hub       HubConfig       `mapstructure:"hub"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Redis     RedisConfig     `mapstructure:"redis"`
	GeoIP     GeoIPConfig     `mapstructure:"geoip"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Watchlist []string        `mapstructure:"watchlist"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EngineConfig struct {
	trafficengine.Config `mapstructure:",squash"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
}

type HubConfig struct {
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type GeneratorConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Rate           float64 `mapstructure:"rate"`
	SuspiciousRate float64 `mapstructure:"suspicious_rate"`
	Seed           uint64  `mapstructure:"seed"`
}

type UpstreamConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig enables the pub/sub source when Addr is set.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	EventsChannel string `mapstructure:"events_channel"`
	StatsChannel  string `mapstructure:"stats_channel"`
}

type GeoIPConfig struct {
	MMDBPath    string `mapstructure:"mmdb_path"`
	CloudRanges bool   `mapstructure:"cloud_ranges"`
	CacheDir    string `mapstructure:"cache_dir"`
}

// SensorConfig is the destination endpoint for packages posted to /receive.
type SensorConfig struct {
	Name      string  `mapstructure:"name"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Protocol  string  `mapstructure:"protocol"`
}

// StorageConfig enables counter persistence when CounterPath is set.
type StorageConfig struct {
	CounterPath  string        `mapstructure:"counter_path"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Load reads path when given, otherwise looks for traffic.yaml in . and ./configs. A missing
// file is not an error; environment and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("traffic")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := trafficengine.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("engine.max_visible_items", def.MaxVisibleItems)
	v.SetDefault("engine.fade_duration", def.FadeDuration)
	v.SetDefault("engine.grace_window", def.GraceWindow)
	v.SetDefault("engine.show_suspicious", def.ShowSuspicious)
	v.SetDefault("engine.radius", def.Radius)
	v.SetDefault("engine.history_size", def.HistorySize)
	v.SetDefault("engine.tick_interval", 50*time.Millisecond)

	v.SetDefault("hub.stats_interval", time.Second)

	v.SetDefault("generator.enabled", true)
	v.SetDefault("generator.rate", 0.8)
	v.SetDefault("generator.suspicious_rate", 0.15)
	v.SetDefault("generator.seed", 0)

	v.SetDefault("upstream.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.events_channel", "traffic:events")
	v.SetDefault("redis.stats_channel", "traffic:stats")

	v.SetDefault("geoip.mmdb_path", "")
	v.SetDefault("geoip.cloud_ranges", false)
	v.SetDefault("geoip.cache_dir", "data/cache")

	v.SetDefault("sensor.name", "Sensor")
	v.SetDefault("sensor.latitude", 38.9072)
	v.SetDefault("sensor.longitude", -77.0369)
	v.SetDefault("sensor.protocol", "TCP")

	v.SetDefault("storage.counter_path", "")
	v.SetDefault("storage.save_interval", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("watchlist", []string{})
}

func (c *Config) Validate() error {
	if err := c.Engine.Config.Validate(); err != nil {
		return err
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive, got %v", c.Engine.TickInterval)
	}
	if c.Hub.StatsInterval <= 0 {
		return fmt.Errorf("hub.stats_interval must be positive, got %v", c.Hub.StatsInterval)
	}
	if c.Generator.Enabled && c.Generator.Rate <= 0 {
		return fmt.Errorf("generator.rate must be positive, got %v", c.Generator.Rate)
	}
	if c.Generator.SuspiciousRate < 0 || c.Generator.SuspiciousRate > 1 {
		return fmt.Errorf("generator.suspicious_rate must be in [0,1], got %v", c.Generator.SuspiciousRate)
	}
	if c.Storage.CounterPath != "" && c.Storage.SaveInterval <= 0 {
		return fmt.Errorf("storage.save_interval must be positive, got %v", c.Storage.SaveInterval)
	}
	return nil
}
