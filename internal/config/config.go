// Package config загружает конфигурацию движка из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Драйверы хранилища
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Africa/Porto-Novo"`

	// --- Logging ---
	// Пустой LOG_FILE — только stdout.
	LogFile          string `envconfig:"LOG_FILE"`
	LogMaxSizeMB     int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups    int    `envconfig:"LOG_MAX_BACKUPS" default:"7"`
	LogMaxAgeDays    int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
	LogCompressFiles bool   `envconfig:"LOG_COMPRESS" default:"true"`

	// --- Store ---
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"engine.db"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"engine"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"bintex"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Redis (идемпотентность HTTP) ---
	// Пустой REDIS_ADDR отключает кэш идемпотентности.
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// --- HTTP API ---
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER"`

	// --- Admin ---
	// Хеш argon2id админского ключа (scripts/generate_hash.go).
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH"`

	// --- Telegram ---
	// Пустой токен — бот не запускается.
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Rewards ---
	RewardsConfigPath     string          `envconfig:"REWARDS_CONFIG_PATH" default:"configs/rewards.yaml"`
	WheelSpinsPerPurchase int             `envconfig:"WHEEL_SPINS_PER_PURCHASE" default:"0"`
	WithdrawMinAmount     decimal.Decimal `envconfig:"WITHDRAW_MIN_AMOUNT" default:"1000"`
	ReferralCodePrefix    string          `envconfig:"REFERRAL_CODE_PREFIX" default:"BIN"`

	// --- Retry (оптимистичная конкурентность) ---
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"20ms"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"500ms"`

	// --- Jobs ---
	AccrualSweepCron string `envconfig:"ACCRUAL_SWEEP_CRON" default:"0 * * * *"`
	BonusSweepCron   string `envconfig:"BONUS_SWEEP_CRON" default:"30 3 * * *"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureWheelEnabled bool `envconfig:"FEATURE_WHEEL_ENABLED" default:"true"`
	FeatureBonusEnabled bool `envconfig:"FEATURE_BONUS_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// BotEnabled — задан ли токен Telegram.
func (c *Config) BotEnabled() bool {
	return strings.TrimSpace(c.TelegramBotToken) != ""
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StoreDriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH не задан")
		}
	default:
		return fmt.Errorf("неизвестный STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET должен быть не короче 32 символов")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS должен быть > 0")
	}
	if c.WheelSpinsPerPurchase < 0 {
		return fmt.Errorf("WHEEL_SPINS_PER_PURCHASE не может быть отрицательным")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	if c.WithdrawMinAmount.IsNegative() {
		return fmt.Errorf("WITHDRAW_MIN_AMOUNT не может быть отрицательным")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
