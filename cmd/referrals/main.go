package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"wallet-referrals/internal/config"
	"wallet-referrals/internal/migrations"
	"wallet-referrals/internal/referral"
	"wallet-referrals/internal/store"

	"go.uber.org/zap"
)

const usage = `Использование: referrals [флаги] <команда>

Команды:
  code            реферальный код пользователя (создается при необходимости)
  link            ссылка на регистрацию с реферальным кодом
  referrer        пригласивший пользователь
  referred        приглашенные пользователи
  stats           статистика рефералов
  wallet          баланс и последние операции кошелька
  settings        текущие настройки программы
  set-setting     изменить настройку (-key, -value)
  migrate-status  статус миграций

Флаги:
`

func main() {
	var (
		userID = flag.Int64("user", 0, "ID пользователя")
		base   = flag.String("base", "", "Базовая ссылка (по умолчанию страница регистрации)")
		limit  = flag.Int("limit", 10, "Количество операций кошелька")
		key    = flag.String("key", "", "Ключ настройки для set-setting")
		value  = flag.String("value", "", "Значение настройки для set-setting")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	if command == "migrate-status" {
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	}

	// Подключение к базе данных
	store, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer store.Close()

	service := referral.NewService(store.User(), referral.Config{RegistrationURL: cfg.Referral.RegistrationURL}, logger)
	ctx := context.Background()

	switch command {
	case "code":
		err = printCode(ctx, service, *userID)
	case "link":
		err = printLink(ctx, service, *userID, *base)
	case "referrer":
		err = printReferrer(ctx, service, *userID)
	case "referred":
		err = printReferred(ctx, service, *userID)
	case "stats":
		err = printStats(ctx, service, *userID)
	case "wallet":
		err = printWallet(ctx, store.Wallet(), *userID, *limit)
	case "settings":
		err = printSettings(ctx, store.Settings())
	case "set-setting":
		err = setSetting(ctx, store.Settings(), *key, *value)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal("Ошибка выполнения команды", zap.String("command", command), zap.Error(err))
	}
}

func printCode(ctx context.Context, service *referral.Service, userID int64) error {
	code, err := service.GetOrCreateCode(ctx, userID)
	if err != nil {
		return fmt.Errorf("ошибка получения кода пользователя %d: %w", userID, err)
	}
	fmt.Println(code)
	return nil
}

func printLink(ctx context.Context, service *referral.Service, userID int64, base string) error {
	link, err := service.BuildSignupLink(ctx, userID, base)
	if err != nil {
		return fmt.Errorf("ошибка построения ссылки пользователя %d: %w", userID, err)
	}
	fmt.Println(link)
	return nil
}

func printReferrer(ctx context.Context, service *referral.Service, userID int64) error {
	referrerID, err := service.GetReferrer(ctx, userID)
	if err != nil {
		return fmt.Errorf("ошибка получения пригласившего: %w", err)
	}
	if referrerID == 0 {
		fmt.Println("нет пригласившего")
		return nil
	}
	fmt.Println(referrerID)
	return nil
}

func printReferred(ctx context.Context, service *referral.Service, userID int64) error {
	ids, err := service.GetReferredUsers(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func printStats(ctx context.Context, service *referral.Service, userID int64) error {
	stats, err := service.GetStats(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("Пользователь: %d\nКод: %s\nПриглашено: %d\n", stats.UserID, stats.ReferralCode, stats.ReferredCount)
	return nil
}

func printWallet(ctx context.Context, wallet store.WalletRepository, userID int64, limit int) error {
	if userID <= 0 {
		return referral.ErrInvalidUserID
	}

	balance, err := wallet.Balance(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("Баланс: %s\n", balance.StringFixed(2))

	txns, err := wallet.GetTransactions(ctx, userID, limit)
	if err != nil {
		return err
	}
	for _, txn := range txns {
		fmt.Printf("%s  %-6s %10s  %s\n", txn.CreatedAt.Format("2006-01-02 15:04:05"), txn.Type, txn.Amount.StringFixed(2), txn.Memo)
	}
	return nil
}

func printSettings(ctx context.Context, settings store.SettingsRepository) error {
	current, err := settings.Load(ctx)
	if err != nil {
		return err
	}

	values := store.EncodeSettings(current)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("%-22s %s\n", k, values[k])
	}
	return nil
}

func setSetting(ctx context.Context, settings store.SettingsRepository, key, value string) error {
	key = strings.TrimSpace(key)
	if err := store.ValidateSetting(key, value); err != nil {
		return err
	}
	return settings.Set(ctx, key, value)
}
