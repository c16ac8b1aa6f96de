package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-referrals/internal/api"
	"wallet-referrals/internal/attribution"
	"wallet-referrals/internal/config"
	"wallet-referrals/internal/metrics"
	"wallet-referrals/internal/migrations"
	"wallet-referrals/internal/notify"
	"wallet-referrals/internal/referral"
	"wallet-referrals/internal/reward"
	"wallet-referrals/internal/scheduler"
	"wallet-referrals/internal/store"
	"wallet-referrals/internal/webhook"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	logger, err := initLogger(&cfg.App)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск сервиса реферальных наград", zap.String("env", cfg.App.Env))

	if cfg.Webhook.Secret == "" && !cfg.App.IsDevelopment() {
		logger.Warn("WEBHOOK_SECRET не задан, подпись вебхуков не проверяется")
	}

	// Инициализация базы данных
	store, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer store.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настройки программы из окружения записываются только при первом запуске
	if err := store.Settings().Seed(ctx, cfg.Referral.Defaults); err != nil {
		logger.Fatal("ошибка записи настроек по умолчанию", zap.Error(err))
	}

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, store.DB(), logger)

	// Инициализация сервисов
	referralService := referral.NewService(store.User(), referral.Config{
		RegistrationURL: cfg.Referral.RegistrationURL,
		Recorder:        metricsSystem,
	}, logger)

	tracker, err := attribution.NewTracker(referralService, referralService, store.User(), attribution.Config{
		Secret:    []byte(cfg.Referral.CookieSecret),
		Namespace: cfg.Referral.CookieNamespace,
		Secure:    cfg.Referral.CookieSecure,
		Recorder:  metricsSystem,
	}, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации трекера привязок", zap.Error(err))
	}

	deps := reward.Dependencies{
		Users:    store.User(),
		Orders:   store.Order(),
		Wallet:   store.Wallet(),
		Settings: store.Settings(),
		Policy:   reward.ApproveAll{},
		Recorder: metricsSystem,
	}

	// Уведомления в Telegram необязательны
	if cfg.Telegram.NotificationsEnabled() {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal("ошибка инициализации Telegram бота", zap.Error(err))
		}
		logger.Info("Telegram уведомления включены",
			zap.String("bot", botAPI.Self.UserName),
			zap.Int64("chat_id", cfg.Telegram.NotifyChatID))
		deps.Notifier = notify.NewTelegramNotifier(botAPI, cfg.Telegram.NotifyChatID, store.User(), logger)
	} else {
		logger.Info("Telegram уведомления отключены")
	}

	rewardEngine := reward.NewEngine(deps, logger)

	pipeline := webhook.NewRegistrationPipeline(tracker, rewardEngine, logger)
	webhookHandler := webhook.NewHandler(store.User(), store.Order(), pipeline, rewardEngine, cfg.Webhook.Secret, metricsSystem, logger)

	router := api.NewRouter(api.Config{
		Referrals:       referralService,
		Tracker:         tracker,
		Sessions:        attribution.HeaderSessionResolver{},
		Webhooks:        webhookHandler,
		Metrics:         metricsHandler,
		RegistrationURL: cfg.Referral.RegistrationURL,
		Logger:          logger,
	})

	// Сверка наград по завершенным заказам, для которых вебхук мог не дойти
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewPendingRewardsJob(store.Order(), rewardEngine, cfg.Referral.ReconcileBatch, logger))

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера
	done := make(chan struct{})
	go func() {
		startServer(ctx, cfg.App.Port, router, logger)
		close(done)
	}()

	if cfg.Referral.ReconcileInterval > 0 {
		go taskScheduler.Start(ctx, cfg.Referral.ReconcileInterval)
	} else {
		logger.Info("сверка наград отключена")
	}

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
		zap.String("env", cfg.App.Env))

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	cancel()
	<-done

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер, в продакшне пишет JSON
func initLogger(app *config.AppConfig) (*zap.Logger, error) {
	logConfig := zap.NewDevelopmentConfig()
	if app.IsProduction() {
		logConfig = zap.NewProductionConfig()
	}
	logConfig.Level = app.GetLogLevel()
	logConfig.OutputPaths = []string{"stdout", "logs/app.log"}
	logConfig.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return logConfig.Build()
}

// startServer запускает HTTP сервер и останавливает его при отмене контекста
func startServer(ctx context.Context, port int, handler http.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	// Graceful shutdown HTTP сервера
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}
