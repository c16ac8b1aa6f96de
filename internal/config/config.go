package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wallet-referrals/pkg/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database DatabaseConfig
	App      AppConfig
	Referral ReferralConfig
	Webhook  WebhookConfig
	Telegram TelegramConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
}

// ReferralConfig содержит настройки реферальной программы
type ReferralConfig struct {
	RegistrationURL string
	CookieSecret    string
	CookieNamespace string
	CookieSecure    bool

	// Период сверки завершенных заказов без награды, 0 отключает сверку
	ReconcileInterval time.Duration
	ReconcileBatch    int

	// Значения по умолчанию, которые записываются в referral_settings при первом запуске
	Defaults models.RewardSettings
}

// WebhookConfig содержит настройки входящих webhook'ов платформы
type WebhookConfig struct {
	Secret string
}

// TelegramConfig содержит настройки уведомлений о наградах
type TelegramConfig struct {
	BotToken     string
	NotifyChatID int64
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// Referral
	defaults := models.DefaultRewardSettings()
	cfg.Referral.RegistrationURL = getEnvDefault("REFERRAL_REGISTRATION_URL", "http://localhost:8080/register")
	cfg.Referral.CookieSecret = os.Getenv("REFERRAL_COOKIE_SECRET")
	cfg.Referral.CookieNamespace = getEnvDefault("REFERRAL_COOKIE_NAMESPACE", "wallet-referrals")
	cfg.Referral.CookieSecure = getEnvBoolDefault("REFERRAL_COOKIE_SECURE", false)
	cfg.Referral.ReconcileInterval = getEnvDurationDefault("REFERRAL_RECONCILE_INTERVAL", time.Hour)
	cfg.Referral.ReconcileBatch = getEnvIntDefault("REFERRAL_RECONCILE_BATCH", 100)
	cfg.Referral.Defaults = models.RewardSettings{
		Enabled:             getEnvBoolDefault("REFERRAL_ENABLED", defaults.Enabled),
		RequirePurchase:     getEnvBoolDefault("REFERRAL_REQUIRE_PURCHASE", defaults.RequirePurchase),
		PurchaseThreshold:   getEnvDecimalDefault("REFERRAL_PURCHASE_THRESHOLD", defaults.PurchaseThreshold),
		SignupAmount:        getEnvDecimalDefault("REFERRAL_SIGNUP_AMOUNT", defaults.SignupAmount),
		DescriptionTemplate: getEnvDefault("REFERRAL_DESCRIPTION", defaults.DescriptionTemplate),
	}

	// Webhook
	cfg.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.NotifyChatID = int64(getEnvIntDefault("TELEGRAM_NOTIFY_CHAT_ID", 0))

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvDecimalDefault(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if len(config.Referral.CookieSecret) < 16 {
		return fmt.Errorf("REFERRAL_COOKIE_SECRET должен быть не короче 16 символов")
	}
	if config.Referral.ReconcileInterval < 0 {
		return fmt.Errorf("REFERRAL_RECONCILE_INTERVAL не может быть отрицательным")
	}
	if config.Referral.ReconcileBatch <= 0 {
		return fmt.Errorf("REFERRAL_RECONCILE_BATCH должен быть положительным")
	}
	if config.Referral.Defaults.SignupAmount.IsNegative() {
		return fmt.Errorf("REFERRAL_SIGNUP_AMOUNT не может быть отрицательным")
	}
	if config.Referral.Defaults.PurchaseThreshold.IsNegative() {
		return fmt.Errorf("REFERRAL_PURCHASE_THRESHOLD не может быть отрицательным")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL для goose
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// NotificationsEnabled проверяет, настроены ли уведомления в Telegram
func (c *TelegramConfig) NotificationsEnabled() bool {
	return c.BotToken != "" && c.NotifyChatID != 0
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
