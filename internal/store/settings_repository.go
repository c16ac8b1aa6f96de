package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"wallet-referrals/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// settingsRepository реализует SettingsRepository поверх таблицы key/value
type settingsRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSettingsRepository создает новый репозиторий настроек
func NewSettingsRepository(db *pgxpool.Pool, logger *zap.Logger) SettingsRepository {
	return &settingsRepository{
		db:     db,
		logger: logger,
	}
}

// Load читает настройки, отсутствующие ключи берутся из значений по умолчанию
func (r *settingsRepository) Load(ctx context.Context) (models.RewardSettings, error) {
	settings := models.DefaultRewardSettings()

	rows, err := r.db.Query(ctx, `SELECT key, value FROM referral_settings`)
	if err != nil {
		return settings, fmt.Errorf("ошибка получения настроек: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, fmt.Errorf("ошибка сканирования настройки: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return settings, fmt.Errorf("ошибка чтения настроек: %w", err)
	}

	return ApplySettings(settings, values, r.logger), nil
}

// Seed записывает значения по умолчанию, не перезаписывая существующие
func (r *settingsRepository) Seed(ctx context.Context, defaults models.RewardSettings) error {
	query := `
		INSERT INTO referral_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO NOTHING`

	for key, value := range EncodeSettings(defaults) {
		if _, err := r.db.Exec(ctx, query, key, value); err != nil {
			return fmt.Errorf("ошибка записи настройки %s: %w", key, err)
		}
	}

	r.logger.Info("настройки реферальной программы инициализированы")
	return nil
}

// Set обновляет значение одной настройки
func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO referral_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка обновления настройки %s: %w", key, err)
	}

	r.logger.Info("настройка обновлена", zap.String("key", key), zap.String("value", value))
	return nil
}

// EncodeSettings переводит настройки в набор key/value
func EncodeSettings(s models.RewardSettings) map[string]string {
	return map[string]string{
		models.SettingEnabled:             strconv.FormatBool(s.Enabled),
		models.SettingRequirePurchase:     strconv.FormatBool(s.RequirePurchase),
		models.SettingPurchaseThreshold:   s.PurchaseThreshold.String(),
		models.SettingSignupAmount:        s.SignupAmount.String(),
		models.SettingDescriptionTemplate: s.DescriptionTemplate,
	}
}

// ApplySettings накладывает значения key/value на настройки.
// Некорректные значения пропускаются с предупреждением.
func ApplySettings(s models.RewardSettings, values map[string]string, logger *zap.Logger) models.RewardSettings {
	for key, raw := range values {
		value := strings.TrimSpace(raw)
		switch key {
		case models.SettingEnabled, models.SettingRequirePurchase:
			b, ok := parseFlag(value)
			if !ok {
				logger.Warn("некорректное значение настройки", zap.String("key", key), zap.String("value", raw))
				continue
			}
			if key == models.SettingEnabled {
				s.Enabled = b
			} else {
				s.RequirePurchase = b
			}
		case models.SettingPurchaseThreshold, models.SettingSignupAmount:
			d, err := decimal.NewFromString(value)
			if err != nil || d.IsNegative() {
				logger.Warn("некорректная сумма в настройке", zap.String("key", key), zap.String("value", raw))
				continue
			}
			if key == models.SettingPurchaseThreshold {
				s.PurchaseThreshold = d
			} else {
				s.SignupAmount = d
			}
		case models.SettingDescriptionTemplate:
			s.DescriptionTemplate = raw
		default:
			logger.Debug("неизвестная настройка", zap.String("key", key))
		}
	}

	return s
}

// ValidateSetting проверяет ключ и значение настройки перед записью
func ValidateSetting(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case models.SettingEnabled, models.SettingRequirePurchase:
		if _, ok := parseFlag(value); !ok {
			return fmt.Errorf("настройка %s ожидает yes/no, получено %q", key, value)
		}
	case models.SettingPurchaseThreshold, models.SettingSignupAmount:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("настройка %s ожидает неотрицательную сумму, получено %q", key, value)
		}
	case models.SettingDescriptionTemplate:
	default:
		return fmt.Errorf("неизвестная настройка %q", key)
	}
	return nil
}

// parseFlag понимает true/false и yes/no
func parseFlag(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "yes", "on":
		return true, true
	case "no", "off", "":
		return false, true
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return b, true
}
