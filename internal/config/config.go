package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	SessionTTLDays        int
	RedisURL              string
	OperationTimeout      time.Duration
	AllowUserIDSocketAuth bool
	KeywordBadgeFallback  bool
	WSMessagesPerSecond   float64
	WSMessageBurst        int
	CORSOrigins           []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// getenvList 读取逗号分隔的列表，忽略空项。
func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getenv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load 读取 .env（若存在）和环境变量，非法数值回退到默认值。
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   getenv("APP_ENV", "dev"),
		DatabaseDriver:        strings.ToLower(getenv("DATABASE_DRIVER", "postgres")),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=proactive port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		SessionTTLDays:        getenvInt("SESSION_TTL_DAYS", 7),
		RedisURL:              getenv("REDIS_URL", ""),
		OperationTimeout:      time.Duration(getenvInt("OPERATION_TIMEOUT_SECONDS", 5)) * time.Second,
		AllowUserIDSocketAuth: getenvBool("SOCKET_ALLOW_USER_ID_AUTH", false),
		KeywordBadgeFallback:  getenvBool("ACHIEVEMENT_KEYWORD_FALLBACK", true),
		WSMessagesPerSecond:   getenvFloat("WS_MESSAGE_RATE", 5),
		WSMessageBurst:        getenvInt("WS_MESSAGE_BURST", 10),
		CORSOrigins:           getenvList("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate 校验启动所必需的配置项。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "", "postgres", "sqlite":
	default:
		return errors.New("config: DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default JWT_SECRET is not allowed outside dev")
	}
	return nil
}
