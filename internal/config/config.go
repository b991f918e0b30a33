package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	CommandPool  int           `mapstructure:"command_pool"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisURL    string `mapstructure:"redis_url"`

	BlobBaseURL  string        `mapstructure:"blob_base_url"`
	BlobSecret   string        `mapstructure:"blob_secret"`
	BlobURLTTL   time.Duration `mapstructure:"blob_url_ttl"`
	WebhookToken string        `mapstructure:"webhook_token"`

	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
}

func Load() (*Config, error) {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("command_pool", 4)
	v.SetDefault("rate_limit", 30)
	v.SetDefault("rate_interval", "10s")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("blob_base_url", "http://localhost:8080")
	v.SetDefault("blob_url_ttl", "15m")
	v.SetDefault("transcribe_timeout", "30s")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults and env\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
