package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Upload   UploadConfig
	Worker   WorkerConfig
	Sweeper  SweeperConfig
	Engine   EngineConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

type StoreConfig struct {
	Path string
}

type UploadConfig struct {
	Dir         string
	MaxFileSize int64
}

type WorkerConfig struct {
	ID              string
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	ShutdownTimeout time.Duration
}

type SweeperConfig struct {
	Interval         time.Duration
	TaskTimeout      time.Duration
	HeartbeatTimeout time.Duration
}

type EngineConfig struct {
	Command     string
	ModelSize   string
	Device      string
	ComputeType string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/hark")

	// Set defaults
	setDefaults()

	// Environment variable binding
	viper.SetEnvPrefix("HARK")
	viper.AutomaticEnv()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("server.ratelimitrps", 100)

	// Store defaults
	viper.SetDefault("store.path", "data/hark.db")

	// Upload defaults
	viper.SetDefault("upload.dir", "data/uploads")
	viper.SetDefault("upload.maxfilesize", int64(500*1024*1024))

	// Worker defaults
	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.pollinterval", 1*time.Second)
	viper.SetDefault("worker.errorbackoff", 5*time.Second)
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)

	// Sweeper defaults
	viper.SetDefault("sweeper.interval", 30*time.Second)
	viper.SetDefault("sweeper.tasktimeout", 3600*time.Second)
	viper.SetDefault("sweeper.heartbeattimeout", 300*time.Second)

	// Engine defaults
	viper.SetDefault("engine.command", "whisper-stream")
	viper.SetDefault("engine.modelsize", "small")
	viper.SetDefault("engine.device", "cpu")
	viper.SetDefault("engine.computetype", "default")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
