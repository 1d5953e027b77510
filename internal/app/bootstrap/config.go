package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for M74.
// It merges file defaults and environment overrides to support both local
// and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	NotifierBackend string
	KafkaBrokers    []string
	KafkaTopic      string
	AMQPURL         string
	AMQPExchange    string
	NotifyQueueCap  int

	MaxWaitTime             time.Duration
	VolunteerSilenceTimeout time.Duration
	ReassignInterval        time.Duration
	MaxReassignAttempts     int
	ClaimTTL                time.Duration
	DirectoryTTL            time.Duration

	LanguageWeight         float64
	ExpertiseWeight        float64
	RatingWeight           float64
	ResponseTimeWeight     float64
	LoadWeight             float64
	ExpertisePartialCredit float64
	MinimumScore           float64
	UserScoreBoost         bool
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Notifications struct {
		Backend      string   `yaml:"backend"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
		AMQPURL      string   `yaml:"amqp_url"`
		AMQPExchange string   `yaml:"amqp_exchange"`
	} `yaml:"notifications"`
	Routing struct {
		LanguageWeight         float64 `yaml:"language_weight"`
		ExpertiseWeight        float64 `yaml:"expertise_weight"`
		RatingWeight           float64 `yaml:"rating_weight"`
		ResponseTimeWeight     float64 `yaml:"response_time_weight"`
		LoadWeight             float64 `yaml:"load_weight"`
		ExpertisePartialCredit float64 `yaml:"expertise_partial_credit"`
		MinimumScore           float64 `yaml:"minimum_score"`
		UserScoreBoost         *bool   `yaml:"user_score_boost"`
	} `yaml:"routing"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:               "M74-Support-Routing-Service",
		HTTPPort:                8080,
		GRPCPort:                9090,
		MaxDBConns:              20,
		NotifierBackend:         "log",
		KafkaTopic:              "support.routing.notifications",
		AMQPExchange:            "support.routing",
		NotifyQueueCap:          256,
		MaxWaitTime:             5 * time.Minute,
		VolunteerSilenceTimeout: 15 * time.Minute,
		ReassignInterval:        30 * time.Second,
		MaxReassignAttempts:     5,
		ClaimTTL:                30 * time.Second,
		DirectoryTTL:            30 * time.Second,
		LanguageWeight:          0.3,
		ExpertiseWeight:         0.25,
		RatingWeight:            0.2,
		ResponseTimeWeight:      0.15,
		LoadWeight:              0.1,
		ExpertisePartialCredit:  0.3,
		MinimumScore:            0.3,
		UserScoreBoost:          true,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Notifications.Backend != "" {
			cfg.NotifierBackend = f.Notifications.Backend
		}
		if len(f.Notifications.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Notifications.KafkaBrokers
		}
		if f.Notifications.KafkaTopic != "" {
			cfg.KafkaTopic = f.Notifications.KafkaTopic
		}
		if f.Notifications.AMQPURL != "" {
			cfg.AMQPURL = f.Notifications.AMQPURL
		}
		if f.Notifications.AMQPExchange != "" {
			cfg.AMQPExchange = f.Notifications.AMQPExchange
		}
		if f.Routing.LanguageWeight > 0 {
			cfg.LanguageWeight = f.Routing.LanguageWeight
		}
		if f.Routing.ExpertiseWeight > 0 {
			cfg.ExpertiseWeight = f.Routing.ExpertiseWeight
		}
		if f.Routing.RatingWeight > 0 {
			cfg.RatingWeight = f.Routing.RatingWeight
		}
		if f.Routing.ResponseTimeWeight > 0 {
			cfg.ResponseTimeWeight = f.Routing.ResponseTimeWeight
		}
		if f.Routing.LoadWeight > 0 {
			cfg.LoadWeight = f.Routing.LoadWeight
		}
		if f.Routing.ExpertisePartialCredit > 0 {
			cfg.ExpertisePartialCredit = f.Routing.ExpertisePartialCredit
		}
		if f.Routing.MinimumScore > 0 {
			cfg.MinimumScore = f.Routing.MinimumScore
		}
		if f.Routing.UserScoreBoost != nil {
			cfg.UserScoreBoost = *f.Routing.UserScoreBoost
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))

	cfg.NotifierBackend = strings.ToLower(strings.TrimSpace(envOrDefault("NOTIFIER_BACKEND", cfg.NotifierBackend)))
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.AMQPURL = envOrDefault("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = envOrDefault("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.NotifyQueueCap = envInt("NOTIFY_QUEUE_CAP", cfg.NotifyQueueCap)

	cfg.MaxWaitTime = time.Duration(envInt("MAX_WAIT_SECONDS", int(cfg.MaxWaitTime.Seconds()))) * time.Second
	cfg.VolunteerSilenceTimeout = time.Duration(envInt("VOLUNTEER_SILENCE_SECONDS", int(cfg.VolunteerSilenceTimeout.Seconds()))) * time.Second
	cfg.ReassignInterval = time.Duration(envInt("REASSIGN_INTERVAL_SECONDS", int(cfg.ReassignInterval.Seconds()))) * time.Second
	cfg.MaxReassignAttempts = envInt("MAX_REASSIGN_ATTEMPTS", cfg.MaxReassignAttempts)
	cfg.ClaimTTL = time.Duration(envInt("CLAIM_TTL_SECONDS", int(cfg.ClaimTTL.Seconds()))) * time.Second
	cfg.DirectoryTTL = time.Duration(envInt("DIRECTORY_TTL_SECONDS", int(cfg.DirectoryTTL.Seconds()))) * time.Second

	cfg.LanguageWeight = envFloat("LANGUAGE_WEIGHT", cfg.LanguageWeight)
	cfg.ExpertiseWeight = envFloat("EXPERTISE_WEIGHT", cfg.ExpertiseWeight)
	cfg.RatingWeight = envFloat("RATING_WEIGHT", cfg.RatingWeight)
	cfg.ResponseTimeWeight = envFloat("RESPONSE_TIME_WEIGHT", cfg.ResponseTimeWeight)
	cfg.LoadWeight = envFloat("LOAD_WEIGHT", cfg.LoadWeight)
	cfg.ExpertisePartialCredit = envFloat("EXPERTISE_PARTIAL_CREDIT", cfg.ExpertisePartialCredit)
	cfg.MinimumScore = envFloat("MINIMUM_SCORE", cfg.MinimumScore)
	cfg.UserScoreBoost = envBool("USER_SCORE_BOOST", cfg.UserScoreBoost)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	switch cfg.NotifierBackend {
	case "log", "kafka", "amqp":
	default:
		return Config{}, fmt.Errorf("unknown notifier backend %q", cfg.NotifierBackend)
	}
	if cfg.NotifierBackend == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("kafka backend requires KAFKA_BROKERS")
	}
	if cfg.NotifierBackend == "amqp" && cfg.AMQPURL == "" {
		return Config{}, fmt.Errorf("amqp backend requires AMQP_URL")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envFloat parses float env vars with safe fallback on empty/invalid values.
func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms with a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
