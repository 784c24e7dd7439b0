// Package config loads agent configuration from a YAML file and FIELDSYNC_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Store        StoreConfig        `mapstructure:"store"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Hosts accepted by the websocket origin check.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// StoreConfig selects the key-value backend holding the persisted queue.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite, redis, memory
	DataDir       string `mapstructure:"data_dir"`
	QueueKey      string `mapstructure:"queue_key"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Token      string        `mapstructure:"token"`
	HealthPath string        `mapstructure:"health_path"`
}

type ConnectivityConfig struct {
	ProbeSchedule string        `mapstructure:"probe_schedule"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ProbeEnabled  bool          `mapstructure:"probe_enabled"`
}

// Load reads path when it exists; defaults and environment variables apply either way.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", "127.0.0.1:8090")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"localhost", "localhost:8090", "127.0.0.1:8090"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.queue_key", "edf_offline_queue")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", "fieldsync:")
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.health_path", "/auth/me/")
	v.SetDefault("connectivity.probe_schedule", "@every 15s")
	v.SetDefault("connectivity.probe_timeout", "5s")
	v.SetDefault("connectivity.probe_enabled", true)
}
