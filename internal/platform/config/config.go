package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean. Everything
// comes from the environment; secrets (key file, pepper) are mounted or
// injected, never committed.
type Config struct {
	Addr        string
	DatabaseURL string

	// MasterKeyPath points at the symmetric key file (docker secret or
	// read-only bind mount). The process refuses to start without it.
	MasterKeyPath string
	// BlindIndexPepper keys the equality-search tokens. Empty disables
	// indexing system-wide; that is an accepted configuration state.
	BlindIndexPepper string

	// PendingCeiling caps non-validated subject records per unit.
	PendingCeiling int
	// SubmitLimitPerHour caps admitted submissions per caller identity
	// within the sliding window.
	SubmitLimitPerHour int
	SubmitWindow       time.Duration

	// ResolverMaxInput rejects free text beyond this length before any work.
	ResolverMaxInput int
	// FuzzyFloor is the minimum similarity score (0-100) a fuzzy candidate
	// needs to be returned.
	FuzzyFloor int

	// EscalationContacts is shown to callers hitting the validated-record
	// lock. Comma-separated in the environment.
	EscalationContacts []string

	Redis RedisConfig
	Kafka KafkaConfig

	LogLevel  string
	LogFormat string
}

// RedisConfig configures the optional Redis-backed rate window store.
type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit event publisher.
type KafkaConfig struct {
	Seeds []string
	Topic string
}

// FromEnv builds a Config from environment variables with the documented
// defaults (ceiling 10, rate 10/h, one-hour window, fuzzy floor 55).
func FromEnv() Config {
	cfg := Config{
		Addr:               getEnv("CONTACTGUARD_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "postgres://localhost:5432/contactguard?sslmode=disable"),
		MasterKeyPath:      getEnv("MASTER_KEY_PATH", "/run/secrets/master_key"),
		BlindIndexPepper:   os.Getenv("BLIND_INDEX_PEPPER"),
		PendingCeiling:     getEnvInt("PENDING_CEILING_PER_UNIT", 10),
		SubmitLimitPerHour: getEnvInt("SUBMIT_RATE_LIMIT_PER_HOUR", 10),
		SubmitWindow:       time.Hour,
		ResolverMaxInput:   getEnvInt("RESOLVER_MAX_INPUT", 100),
		FuzzyFloor:         getEnvInt("RESOLVER_FUZZY_FLOOR", 55),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}
	if v := os.Getenv("ESCALATION_CONTACTS"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.EscalationContacts = append(cfg.EscalationContacts, c)
			}
		}
	}
	cfg.Redis = RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if v := os.Getenv("KAFKA_SEEDS"); v != "" {
		cfg.Kafka = KafkaConfig{
			Seeds: strings.Split(v, ","),
			Topic: getEnv("KAFKA_AUDIT_TOPIC", "contactguard.audit"),
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
