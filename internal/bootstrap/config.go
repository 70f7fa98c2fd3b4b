package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	ServerPort string
	AppEnv     string // development / production
	LogLevel   string

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	// DBHost 为空时不启用房间归档
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	TicketSecret      string
	TicketExpiryHours int

	PresenceTTL             time.Duration
	PresenceSweep           time.Duration
	EventLogLimit           int
	EnforceControllerWrites bool

	RateLimitMax      int
	RateLimitWindow   time.Duration
	CORSAllowedOrigin string
}

// LoadConfig 从环境变量加载配置，.env 文件存在时优先加载
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendRedis)),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		KeyPrefix:         getEnv("REDIS_KEY_PREFIX", "mn:"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBName:            os.Getenv("DB_NAME"),
		TicketSecret:      os.Getenv("TICKET_SECRET"),
		TicketExpiryHours: getEnvInt("TICKET_EXPIRY_HOURS", 24),
		PresenceTTL:       getEnvDuration("PRESENCE_TTL", 90*time.Second),
		PresenceSweep:     getEnvDuration("PRESENCE_SWEEP", time.Minute),
		EventLogLimit:     getEnvInt("EVENT_LOG_LIMIT", 500),
		RateLimitMax:      getEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Second),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}
	cfg.EnforceControllerWrites, _ = strconv.ParseBool(os.Getenv("ENFORCE_CONTROLLER_WRITES"))

	switch cfg.StoreBackend {
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("environment variable REDIS_ADDR must be set when STORE_BACKEND=redis")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ArchiveEnabled 配置了 MySQL 且任务队列可用时才归档
func (c *Config) ArchiveEnabled() bool {
	return c.DBHost != "" && c.StoreBackend == BackendRedis
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
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.Warnf("Invalid %s '%s', using default %s", key, v, fallback)
		return fallback
	}
	return d
}
