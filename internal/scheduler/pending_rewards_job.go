package scheduler

import (
	"context"
	"fmt"

	"wallet-referrals/internal/reward"
	"wallet-referrals/pkg/models"

	"go.uber.org/zap"
)

// PendingOrderFinder находит завершенные заказы приглашенных покупателей без награды
type PendingOrderFinder interface {
	GetUnrewardedCompletedOrders(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// OrderRewarder начисляет награду за покупку
type OrderRewarder interface {
	OnOrderStatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus models.OrderStatus) (reward.Outcome, error)
}

// PendingRewardsJob повторно проверяет завершенные заказы, по которым
// вебхук мог не дойти или награда не прошла порог при прошлой проверке
type PendingRewardsJob struct {
	orders  PendingOrderFinder
	rewards OrderRewarder
	batch   int
	logger  *zap.Logger
}

// NewPendingRewardsJob создает задачу сверки наград
func NewPendingRewardsJob(orders PendingOrderFinder, rewards OrderRewarder, batch int, logger *zap.Logger) *PendingRewardsJob {
	if batch <= 0 {
		batch = 100
	}
	return &PendingRewardsJob{
		orders:  orders,
		rewards: rewards,
		batch:   batch,
		logger:  logger,
	}
}

func (j *PendingRewardsJob) Name() string {
	return "pending_rewards"
}

// Run прогоняет через движок наград все найденные заказы, страницами по batch.
// Заказы, не прошедшие проверку, не мешают следующим страницам.
func (j *PendingRewardsJob) Run(ctx context.Context) error {
	var afterID int64
	checked, rewarded, failed := 0, 0, 0

	for {
		ids, err := j.orders.GetUnrewardedCompletedOrders(ctx, afterID, j.batch)
		if err != nil {
			return fmt.Errorf("ошибка получения заказов для сверки: %w", err)
		}

		for _, id := range ids {
			checked++
			outcome, err := j.rewards.OnOrderStatusChanged(ctx, id, models.OrderStatusCompleted, models.OrderStatusCompleted)
			if err != nil {
				failed++
				j.logger.Error("ошибка сверки награды по заказу",
					zap.Int64("order_id", id),
					zap.Error(err))
				continue
			}
			if outcome == reward.OutcomeRewarded {
				rewarded++
			}
		}

		if len(ids) < j.batch || ctx.Err() != nil {
			break
		}
		afterID = ids[len(ids)-1]
	}

	if checked > 0 {
		j.logger.Info("сверка наград завершена",
			zap.Int("orders", checked),
			zap.Int("rewarded", rewarded),
			zap.Int("failed", failed))
	}

	return ctx.Err()
}
