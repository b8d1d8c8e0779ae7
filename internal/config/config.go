// Package config содержит логику чтения конфигурации движка заказов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры запуска сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	StorefrontAddress string        `env:"STOREFRONT_ADDRESS"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	RedisAddress      string        `env:"REDIS_ADDRESS"`
	StripeAPIKey      string        `env:"STRIPE_API_KEY"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	RecurringInterval time.Duration `env:"RECURRING_INTERVAL" envDefault:"1m"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`

	Settings Settings
}

// Brokers возвращает список адресов Kafka.
func (c *Config) Brokers() []string {
	var res []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			res = append(res, b)
		}
	}
	return res
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStorefrontAddress := cfg.StorefrontAddress
	envKafkaBrokers := cfg.KafkaBrokers
	envRedisAddress := cfg.RedisAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StorefrontAddress, "s", "", "storefront API address")
	flag.StringVar(&cfg.KafkaBrokers, "k", "", "comma separated kafka brokers")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStorefrontAddress != "" {
		cfg.StorefrontAddress = envStorefrontAddress
	}
	if envKafkaBrokers != "" {
		cfg.KafkaBrokers = envKafkaBrokers
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
