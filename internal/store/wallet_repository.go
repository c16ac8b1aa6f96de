package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-referrals/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresWalletRepository реализует WalletRepository для PostgreSQL
type PostgresWalletRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewWalletRepository создает новый репозиторий кошельков
func NewWalletRepository(db *pgxpool.Pool, logger *zap.Logger) WalletRepository {
	return &PostgresWalletRepository{
		db:     db,
		logger: logger,
	}
}

// Credit зачисляет сумму на кошелек пользователя в одной транзакции
func (r *PostgresWalletRepository) Credit(ctx context.Context, userID int64, amount decimal.Decimal, memo string) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("сумма зачисления должна быть положительной: %s", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	txn := &models.WalletTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.TransactionTypeCredit,
		Amount:    amount,
		Memo:      memo,
		CreatedAt: time.Now(),
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, memo, created_at)
		VALUES ($1::text::uuid, $2, $3, $4::text::numeric, $5, $6)`,
		txn.ID, txn.UserID, string(txn.Type), txn.Amount.String(), txn.Memo, txn.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания транзакции кошелька: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2::text::numeric, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()`,
		userID, amount.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления баланса: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w: %w", ErrCommitUncertain, err)
	}

	r.logger.Info("кошелек пополнен",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("transaction_id", txn.ID))

	return txn, nil
}

// Balance возвращает текущий баланс пользователя
func (r *PostgresWalletRepository) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance string
	err := r.db.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	value, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("некорректный баланс: %w", err)
	}

	return value, nil
}

// GetTransactions получает последние операции по кошельку
func (r *PostgresWalletRepository) GetTransactions(ctx context.Context, userID int64, limit int) ([]*models.WalletTransaction, error) {
	query := `
		SELECT id::text, user_id, type, amount::text, memo, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения операций кошелька: %w", err)
	}
	defer rows.Close()

	var txns []*models.WalletTransaction
	for rows.Next() {
		txn := &models.WalletTransaction{}
		var txType, amount string
		if err := rows.Scan(&txn.ID, &txn.UserID, &txType, &amount, &txn.Memo, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования операции кошелька: %w", err)
		}
		txn.Type = models.TransactionType(txType)
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("некорректная сумма операции %s: %w", txn.ID, err)
		}
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}
