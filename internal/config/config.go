package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// 生成策略
const (
	PolicyRandomWalk = "random_walk"
	PolicyStationary = "stationary"
)

// 会话存储后端
const (
	SessionBackendFile   = "file"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database（为空时使用内存中的示例行程）
	DatabaseURL string

	// Session
	SessionBackend string
	SessionDir     string
	RedisAddr      string
	JWTSecret      string
	TokenTTL       time.Duration
	LoginDelay     time.Duration

	// Telemetry
	TickInterval     time.Duration
	GenerationPolicy string
	BaseLatitude     float64
	BaseLongitude    float64
	DefaultVehicleID string
	MovingThreshold  float64 // km/h
	AlertProbability float64

	// 容量
	AlertCapacity int
	TrailCapacity int

	// 远程控制
	CommandLatency     time.Duration
	CommandSuccessRate float64
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("PORT", "4000"),
		Debug:              getEnvBool("DEBUG", false),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SessionBackend:     getEnv("SESSION_BACKEND", SessionBackendFile),
		SessionDir:         getEnv("SESSION_DIR", "data"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "vehicleguard-dev-secret"),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 24*time.Hour),
		LoginDelay:         getEnvDuration("LOGIN_DELAY", 1*time.Second),
		TickInterval:       getEnvDuration("TICK_INTERVAL", 3*time.Second),
		GenerationPolicy:   getEnv("GENERATION_POLICY", PolicyRandomWalk),
		BaseLatitude:       getEnvFloat("BASE_LATITUDE", 28.6139),
		BaseLongitude:      getEnvFloat("BASE_LONGITUDE", 77.2090),
		DefaultVehicleID:   getEnv("DEFAULT_VEHICLE_ID", "vehicle-1"),
		MovingThreshold:    getEnvFloat("MOVING_THRESHOLD", 5),
		AlertProbability:   getEnvFloat("ALERT_PROBABILITY", 0.05),
		AlertCapacity:      getEnvInt("ALERT_CAPACITY", 10),
		TrailCapacity:      getEnvInt("TRAIL_CAPACITY", 50),
		CommandLatency:     getEnvDuration("COMMAND_LATENCY", 1*time.Second),
		CommandSuccessRate: getEnvFloat("COMMAND_SUCCESS_RATE", 0.8),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
