package migrations

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"wallet-referrals/internal/config"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// RunMigrations применяет миграции к базе данных
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("начало применения миграций")

	return withDB(cfg, logger, func(db *sql.DB, migrationPath string) error {
		if err := goose.Up(db, migrationPath); err != nil {
			return fmt.Errorf("ошибка применения миграций: %w", err)
		}
		logger.Info("миграции успешно применены")
		return nil
	})
}

// GetMigrationStatus выводит статус миграций
func GetMigrationStatus(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("проверка статуса миграций")

	return withDB(cfg, logger, func(db *sql.DB, migrationPath string) error {
		if err := goose.Status(db, migrationPath); err != nil {
			return fmt.Errorf("ошибка получения статуса миграций: %w", err)
		}
		logger.Info("статус миграций получен")
		return nil
	})
}

// withDB открывает временное подключение для goose
func withDB(cfg *config.Config, logger *zap.Logger, fn func(db *sql.DB, migrationPath string) error) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.GetURL())
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных для миграций: %w", err)
	}
	defer db.Close()

	return fn(db, getMigrationPath(cfg.Database.MigrationPath, logger))
}

// getMigrationPath определяет правильный путь к миграциям
func getMigrationPath(configPath string, logger *zap.Logger) string {
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("используем путь к миграциям из конфигурации", zap.String("path", configPath))
		return configPath
	}

	currentDir, err := os.Getwd()
	if err != nil {
		logger.Warn("не удалось получить текущую директорию, используем путь из конфигурации", zap.Error(err))
		return configPath
	}

	possiblePaths := []string{
		filepath.Join(currentDir, "scripts", "migrations"),
		filepath.Join(currentDir, "migrations"),
		filepath.Join(currentDir, "..", "scripts", "migrations"),
		filepath.Join(currentDir, "..", "..", "scripts", "migrations"),
		"/app/scripts/migrations", // Для Docker контейнера
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			logger.Info("найден путь к миграциям", zap.String("path", path))
			return path
		}
	}

	logger.Warn("не удалось найти директорию с миграциями, используем путь из конфигурации", zap.String("path", configPath))
	return configPath
}
