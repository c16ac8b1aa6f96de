package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-referrals/internal/config"
	"wallet-referrals/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNotFound возвращается, когда запись не найдена
	ErrNotFound = errors.New("запись не найдена")
	// ErrCodeTaken возвращается при нарушении уникальности реферального кода
	ErrCodeTaken = errors.New("реферальный код уже занят")
	// ErrCommitUncertain ошибка на этапе COMMIT: транзакция могла быть зафиксирована
	ErrCommitUncertain = errors.New("результат фиксации транзакции неизвестен")
)

// pgUniqueViolation код ошибки PostgreSQL для нарушения уникальности
const pgUniqueViolation = "23505"

// Store представляет интерфейс для работы с базой данных
type Store interface {
	User() UserRepository
	Order() OrderRepository
	Wallet() WalletRepository
	Settings() SettingsRepository
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db       *pgxpool.Pool
	logger   *zap.Logger
	user     UserRepository
	order    OrderRepository
	wallet   WalletRepository
	settings SettingsRepository
}

// UserRepository интерфейс для работы с пользователями и их реферальными данными
type UserRepository interface {
	Upsert(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetReferralCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error)
	SetReferrerIfAbsent(ctx context.Context, userID, referrerID int64) (bool, error)
	GetReferredUserIDs(ctx context.Context, referrerID int64) ([]int64, error)
	CountReferred(ctx context.Context, referrerID int64) (int, error)
	ClaimPurchaseReward(ctx context.Context, userID int64, orderRef string) (bool, error)
	ReleasePurchaseReward(ctx context.Context, userID int64, orderRef string) error
	ClaimSignupReward(ctx context.Context, userID int64) (bool, error)
	ReleaseSignupReward(ctx context.Context, userID int64) error
}

// OrderRepository интерфейс для работы с заказами
type OrderRepository interface {
	Upsert(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	GetCustomerLifetimeValue(ctx context.Context, customerID int64) (decimal.Decimal, error)
	GetUnrewardedCompletedOrders(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// WalletRepository интерфейс для работы с кошельками
type WalletRepository interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, memo string) (*models.WalletTransaction, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetTransactions(ctx context.Context, userID int64, limit int) ([]*models.WalletTransaction, error)
}

// SettingsRepository интерфейс для работы с настройками реферальной программы
type SettingsRepository interface {
	Load(ctx context.Context) (models.RewardSettings, error)
	Seed(ctx context.Context, defaults models.RewardSettings) error
	Set(ctx context.Context, key, value string) error
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		db:     db,
		logger: logger,
	}

	s.user = NewUserRepository(db, logger)
	s.order = NewOrderRepository(db, logger)
	s.wallet = NewWalletRepository(db, logger)
	s.settings = NewSettingsRepository(db, logger)

	return s, nil
}

// User возвращает репозиторий пользователей
func (s *store) User() UserRepository {
	return s.user
}

// Order возвращает репозиторий заказов
func (s *store) Order() OrderRepository {
	return s.order
}

// Wallet возвращает репозиторий кошельков
func (s *store) Wallet() WalletRepository {
	return s.wallet
}

// Settings возвращает репозиторий настроек
func (s *store) Settings() SettingsRepository {
	return s.settings
}

// DB возвращает подключение к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.db
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

const userColumns = `id, username, display_name, referral_code, referrer_id,
		       rewarded_for_purchase, signup_rewarded_at, created_at, updated_at`

// userRepository реализует UserRepository
type userRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db *pgxpool.Pool, logger *zap.Logger) UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert создает пользователя или обновляет его имя, реферальные поля не затрагиваются
func (r *userRepository) Upsert(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, display_name = EXCLUDED.display_name, updated_at = NOW()
		RETURNING ` + userColumns

	err := scanUser(r.db.QueryRow(ctx, query, user.ID, user.Username, user.DisplayName), user)
	if err != nil {
		return fmt.Errorf("ошибка сохранения пользователя: %w", err)
	}

	r.logger.Debug("пользователь сохранен",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))

	return nil
}

// GetByID получает пользователя по ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user := &models.User{}
	if err := scanUser(r.db.QueryRow(ctx, query, id), user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по ID: %w", err)
	}

	return user, nil
}

func scanUser(row pgx.Row, user *models.User) error {
	return row.Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.ReferralCode, &user.ReferrerID,
		&user.RewardedForPurchase, &user.SignupRewardedAt, &user.CreatedAt, &user.UpdatedAt,
	)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
