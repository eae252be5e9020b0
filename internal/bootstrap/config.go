package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/credential"
	"studyroomix/internal/infra/setup"
	"studyroomix/internal/retry"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBDriver   string // mysql | postgres | memory
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	JWTSecret         string
	ServerPort        string
	LogLevel          string
	AppEnv            string // development / production
	CORSAllowedOrigin string

	RateLimitMax    int
	RateLimitWindow time.Duration

	RoomPasswordMode string
	GeminiAPIKey     string
	GeminiModel      string

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:          os.Getenv("DB_DRIVER"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBName:            os.Getenv("DB_NAME"),
		DBSSLMode:         os.Getenv("DB_SSLMODE"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         os.Getenv("REDIS_KEY_PREFIX"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ServerPort:        os.Getenv("SERVER_PORT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		AppEnv:            os.Getenv("APP_ENV"),
		CORSAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		RoomPasswordMode:  os.Getenv("ROOM_PASSWORD_MODE"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       os.Getenv("GEMINI_MODEL"),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = intEnv("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	defaults := retry.DefaultPolicy()
	if cfg.RetryMaxAttempts, err = intEnv("RETRY_MAX_ATTEMPTS", defaults.MaxAttempts); err != nil {
		return nil, err
	}
	if cfg.RetryInitialInterval, err = durationEnv("RETRY_INITIAL_INTERVAL", defaults.InitialInterval); err != nil {
		return nil, err
	}

	// --- 默认值 ---
	if cfg.DBDriver == "" {
		cfg.DBDriver = setup.DriverMySQL
	}
	if cfg.DBHost == "" {
		cfg.DBHost = "127.0.0.1"
	}
	if cfg.DBPort == "" {
		if cfg.DBDriver == setup.DriverPostgres {
			cfg.DBPort = "5432"
		} else {
			cfg.DBPort = "3306"
		}
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sr:"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = "http://localhost:3000"
	}
	if cfg.RoomPasswordMode == "" {
		cfg.RoomPasswordMode = credential.ModePlain
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}

	// --- 校验 ---
	switch cfg.DBDriver {
	case setup.DriverMySQL, setup.DriverPostgres:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
		}
	case setup.DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.RoomPasswordMode != credential.ModePlain && cfg.RoomPasswordMode != credential.ModeBcrypt {
		return nil, fmt.Errorf("unsupported ROOM_PASSWORD_MODE %q", cfg.RoomPasswordMode)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RateLimitMax < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX must be at least 1, got %d", cfg.RateLimitMax)
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// InMemory 表示不连接 MySQL/Postgres/Redis，整个进程使用内存存储
func (c *Config) InMemory() bool {
	return c.DBDriver == setup.DriverMemory
}

// DBOptions 转换为 setup 包的连接参数
func (c *Config) DBOptions() setup.DBOptions {
	return setup.DBOptions{
		Driver:   c.DBDriver,
		User:     c.DBUser,
		Password: c.DBPassword,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
		LogLevel: c.gormLogLevel(),
	}
}

func (c *Config) gormLogLevel() string {
	if c.AppEnv == "production" {
		return "error"
	}
	if c.LogLevel == "debug" || c.LogLevel == "trace" {
		return "info"
	}
	return "warn"
}

// RetryPolicy 根据配置构建存储重试策略
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.InitialInterval = c.RetryInitialInterval
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
