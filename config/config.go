package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Signaling      SignalingConfig
	ICE            ICEConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type SignalingConfig struct {
	// RecordTTL is how long an offer, answer or candidate stays deliverable.
	RecordTTL time.Duration
}

type ICEConfig struct {
	STUNURLs     []string
	TURNURLs     []string
	TURNUsername string
	TURNPassword string

	RestartMaxAttempts int
	RestartBaseDelay   time.Duration
	RestartMaxDelay    time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("JWT_SECRET", "change-me-in-production")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SIGNALING_RECORD_TTL", "30s")

	v.SetDefault("ICE_STUN_URLS", "stun:stun.l.google.com:19302")
	v.SetDefault("ICE_TURN_URLS", "")
	v.SetDefault("ICE_TURN_USERNAME", "")
	v.SetDefault("ICE_TURN_PASSWORD", "")
	v.SetDefault("ICE_RESTART_MAX_ATTEMPTS", 5)
	v.SetDefault("ICE_RESTART_BASE_DELAY", "1s")
	v.SetDefault("ICE_RESTART_MAX_DELAY", "30s")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:           v.GetString("PORT"),
		Environment:    v.GetString("ENVIRONMENT"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		JWTSecret:      v.GetString("JWT_SECRET"),
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Signaling: SignalingConfig{
			RecordTTL: v.GetDuration("SIGNALING_RECORD_TTL"),
		},
		ICE: ICEConfig{
			STUNURLs:           splitList(v.GetString("ICE_STUN_URLS")),
			TURNURLs:           splitList(v.GetString("ICE_TURN_URLS")),
			TURNUsername:       v.GetString("ICE_TURN_USERNAME"),
			TURNPassword:       v.GetString("ICE_TURN_PASSWORD"),
			RestartMaxAttempts: v.GetInt("ICE_RESTART_MAX_ATTEMPTS"),
			RestartBaseDelay:   v.GetDuration("ICE_RESTART_BASE_DELAY"),
			RestartMaxDelay:    v.GetDuration("ICE_RESTART_MAX_DELAY"),
		},
	}
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Addr returns the host:port of the Redis server.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}
