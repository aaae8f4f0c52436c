package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	DataDir      string
	MembersFile  string
	LedgerFile   string
	StoreBackend string

	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	SQLitePath string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	BootstrapAdminID       string
	BootstrapAdminPassword string
	PBKDF2Iterations       int

	JWTSecret string
	JWTTTL    time.Duration

	AdminAllowedCIDRs []string

	TelegramBotToken    string
	TelegramAdminChatID int64

	AuditInterval time.Duration
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DataDir:      dataDir,
		MembersFile:  filepath.Join(dataDir, getEnv("MEMBERS_FILE", "members.csv")),
		LedgerFile:   filepath.Join(dataDir, getEnv("LEDGER_FILE", "ledger.csv")),
		StoreBackend: getEnv("STORE_BACKEND", "csv"),

		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "referral_ledger"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		SQLitePath: getEnv("SQLITE_PATH", filepath.Join(dataDir, "ledger.db")),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BootstrapAdminID:       getEnv("BOOTSTRAP_ADMIN_ID", "admin"),
		BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", "admin123"),
		PBKDF2Iterations:       getEnvAsInt("PBKDF2_ITERATIONS", 120000),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),
		JWTTTL:    getEnvAsDuration("JWT_TTL", 12*time.Hour),

		AdminAllowedCIDRs: getEnvAsSlice("ADMIN_ALLOWED_CIDRS", nil),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminChatID: int64(getEnvAsInt("TELEGRAM_ADMIN_CHAT_ID", 0)),

		AuditInterval: getEnvAsDuration("AUDIT_INTERVAL", time.Hour),
	}
}

// Production reports whether the process runs with production logging and gin release mode.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
