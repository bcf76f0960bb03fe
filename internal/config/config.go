package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr          string
	PostgresDSN       string
	RedisAddr         string
	KafkaBrokers      []string
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string

	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaPasskey        string
	MpesaEnvironment    string
	MpesaCallbackURL    string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminUsername:     os.Getenv("ADMIN_USERNAME"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		MpesaConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		MpesaShortCode:      os.Getenv("MPESA_SHORTCODE"),
		MpesaPasskey:        os.Getenv("MPESA_PASSKEY"),
		MpesaEnvironment:    os.Getenv("MPESA_ENVIRONMENT"),
		MpesaCallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=payments sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = "admin"
	}
	if cfg.MpesaShortCode == "" {
		cfg.MpesaShortCode = "174379"
	}
	if cfg.MpesaEnvironment == "" {
		cfg.MpesaEnvironment = "sandbox"
	}
	if cfg.MpesaCallbackURL == "" {
		cfg.MpesaCallbackURL = "http://localhost:8080/api/mpesa/webhook"
	}

	slog.Info("config loaded", "http_addr", cfg.HTTPAddr, "redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers, "mpesa_environment", cfg.MpesaEnvironment)
	return cfg
}
