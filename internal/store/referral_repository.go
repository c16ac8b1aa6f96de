package store

import (
	"context"
	"errors"
	"fmt"

	"wallet-referrals/pkg/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// GetByReferralCode получает пользователя по реферальному коду
func (r *userRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`

	user := &models.User{}
	if err := scanUser(r.db.QueryRow(ctx, query, code), user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по реферальному коду: %w", err)
	}

	return user, nil
}

// SetReferralCodeIfAbsent записывает код, только если у пользователя его еще нет.
// Возвращает код, который хранится после операции.
func (r *userRepository) SetReferralCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	query := `
		UPDATE users
		SET referral_code = $2, updated_at = NOW()
		WHERE id = $1 AND referral_code IS NULL
		RETURNING referral_code`

	var stored string
	err := r.db.QueryRow(ctx, query, userID, code).Scan(&stored)
	if err == nil {
		r.logger.Info("реферальный код сохранен",
			zap.Int64("user_id", userID),
			zap.String("code", stored))
		return stored, nil
	}
	if isUniqueViolation(err) {
		return "", ErrCodeTaken
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ошибка сохранения реферального кода: %w", err)
	}

	// Код уже был записан другим запросом, либо пользователя нет
	var existing *string
	err = r.db.QueryRow(ctx, `SELECT referral_code FROM users WHERE id = $1`, userID).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения реферального кода: %w", err)
	}
	if existing == nil {
		return "", fmt.Errorf("реферальный код пользователя %d не сохранен", userID)
	}

	return *existing, nil
}

// SetReferrerIfAbsent записывает пригласившего, только если он еще не задан.
// Самоприглашение и несуществующий пригласивший не записываются.
func (r *userRepository) SetReferrerIfAbsent(ctx context.Context, userID, referrerID int64) (bool, error) {
	query := `
		UPDATE users
		SET referrer_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND referrer_id IS NULL
		  AND id <> $2
		  AND EXISTS (SELECT 1 FROM users r WHERE r.id = $2)`

	result, err := r.db.Exec(ctx, query, userID, referrerID)
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения пригласившего: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// GetReferredUserIDs получает ID всех приглашенных пользователем
func (r *userRepository) GetReferredUserIDs(ctx context.Context, referrerID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE referrer_id = $1`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения приглашенных пользователей: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования приглашенного пользователя: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения приглашенных пользователей: %w", err)
	}

	return ids, nil
}

// CountReferred подсчитывает количество приглашенных пользователем
func (r *userRepository) CountReferred(ctx context.Context, referrerID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE referrer_id = $1`, referrerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета рефералов: %w", err)
	}

	return count, nil
}

// ClaimPurchaseReward атомарно устанавливает отметку о награде за покупку.
// Возвращает false, если отметка уже была установлена.
func (r *userRepository) ClaimPurchaseReward(ctx context.Context, userID int64, orderRef string) (bool, error) {
	query := `
		UPDATE users
		SET rewarded_for_purchase = $2, updated_at = NOW()
		WHERE id = $1 AND rewarded_for_purchase IS NULL`

	result, err := r.db.Exec(ctx, query, userID, orderRef)
	if err != nil {
		return false, fmt.Errorf("ошибка установки отметки о награде за покупку: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ReleasePurchaseReward снимает отметку, если начисление по этому заказу не состоялось
func (r *userRepository) ReleasePurchaseReward(ctx context.Context, userID int64, orderRef string) error {
	query := `
		UPDATE users
		SET rewarded_for_purchase = NULL, updated_at = NOW()
		WHERE id = $1 AND rewarded_for_purchase = $2`

	if _, err := r.db.Exec(ctx, query, userID, orderRef); err != nil {
		return fmt.Errorf("ошибка снятия отметки о награде за покупку: %w", err)
	}

	r.logger.Warn("отметка о награде за покупку снята",
		zap.Int64("user_id", userID),
		zap.String("order_ref", orderRef))

	return nil
}

// ClaimSignupReward атомарно устанавливает отметку о награде за регистрацию
func (r *userRepository) ClaimSignupReward(ctx context.Context, userID int64) (bool, error) {
	query := `
		UPDATE users
		SET signup_rewarded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND signup_rewarded_at IS NULL`

	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("ошибка установки отметки о награде за регистрацию: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ReleaseSignupReward снимает отметку о награде за регистрацию
func (r *userRepository) ReleaseSignupReward(ctx context.Context, userID int64) error {
	query := `UPDATE users SET signup_rewarded_at = NULL, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("ошибка снятия отметки о награде за регистрацию: %w", err)
	}

	return nil
}
