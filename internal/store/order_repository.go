package store

import (
	"context"
	"errors"
	"fmt"

	"wallet-referrals/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// paidStatuses статусы заказов, которые учитываются в сумме покупок
var paidStatuses = []string{
	string(models.OrderStatusProcessing),
	string(models.OrderStatusCompleted),
}

// orderRepository реализует OrderRepository для PostgreSQL
type orderRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewOrderRepository создает новый репозиторий заказов
func NewOrderRepository(db *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert сохраняет копию заказа, присланную платформой
func (r *orderRepository) Upsert(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_id, status, total, created_at, updated_at)
		VALUES ($1, NULLIF($2::bigint, 0), $3, $4::text::numeric, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id, status = EXCLUDED.status,
		    total = EXCLUDED.total, updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		order.ID, order.CustomerID, string(order.Status), order.Total.String(),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения заказа: %w", err)
	}

	r.logger.Debug("заказ сохранен",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
		zap.String("status", string(order.Status)))

	return nil
}

// GetByID получает заказ по ID
func (r *orderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `
		SELECT id, COALESCE(customer_id, 0), status, total::text, created_at, updated_at
		FROM orders
		WHERE id = $1`

	order := &models.Order{}
	var status, total string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&order.ID, &order.CustomerID, &status, &total, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заказа: %w", err)
	}

	order.Status = models.OrderStatus(status)
	order.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("некорректная сумма заказа %d: %w", id, err)
	}

	return order, nil
}

// GetCustomerLifetimeValue возвращает сумму оплаченных заказов покупателя
func (r *orderRepository) GetCustomerLifetimeValue(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(total), 0)::text
		FROM orders
		WHERE customer_id = $1 AND status = ANY($2)`

	var total string
	if err := r.db.QueryRow(ctx, query, customerID, paidStatuses).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка подсчета суммы покупок: %w", err)
	}

	value, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("некорректная сумма покупок: %w", err)
	}

	return value, nil
}

// GetUnrewardedCompletedOrders возвращает последний завершенный заказ каждого
// приглашенного покупателя, за которого еще не начислена награда.
// Страница упорядочена по ID заказа и начинается после afterID.
func (r *orderRepository) GetUnrewardedCompletedOrders(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	query := `
		SELECT id FROM (
			SELECT DISTINCT ON (o.customer_id) o.id
			FROM orders o
			JOIN users u ON u.id = o.customer_id
			WHERE o.status = $1
			  AND u.referrer_id IS NOT NULL
			  AND u.rewarded_for_purchase IS NULL
			ORDER BY o.customer_id, o.updated_at DESC, o.id DESC
		) latest
		WHERE id > $2
		ORDER BY id
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, string(models.OrderStatusCompleted), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заказов без награды: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования заказа: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
