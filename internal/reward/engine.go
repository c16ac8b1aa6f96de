package reward

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"wallet-referrals/internal/store"
	"wallet-referrals/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome результат обработки события
type Outcome string

const (
	OutcomeRewarded        Outcome = "rewarded"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeIgnoredStatus   Outcome = "ignored_status"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeNoReferrer      Outcome = "no_referrer"
	OutcomeAlreadyRewarded Outcome = "already_rewarded"
	OutcomeBelowThreshold  Outcome = "below_threshold"
	OutcomeVetoed          Outcome = "vetoed"
	OutcomeError           Outcome = "error"
)

// UserStore операции с пользователями и отметками о наградах
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ClaimPurchaseReward(ctx context.Context, userID int64, orderRef string) (bool, error)
	ReleasePurchaseReward(ctx context.Context, userID int64, orderRef string) error
	ClaimSignupReward(ctx context.Context, userID int64) (bool, error)
	ReleaseSignupReward(ctx context.Context, userID int64) error
}

// OrderStore операции с заказами
type OrderStore interface {
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	GetCustomerLifetimeValue(ctx context.Context, customerID int64) (decimal.Decimal, error)
}

// Wallet зачисляет средства на кошелек
type Wallet interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, memo string) (*models.WalletTransaction, error)
}

// SettingsProvider возвращает актуальные настройки программы
type SettingsProvider interface {
	Load(ctx context.Context) (models.RewardSettings, error)
}

// Notifier сообщает о начисленной награде
type Notifier interface {
	RewardGranted(ctx context.Context, event models.RewardEvent) error
}

// Recorder принимает события для метрик
type Recorder interface {
	RecordReward(trigger, outcome string)
	RecordRewardAmount(trigger string, amount float64)
}

// Dependencies внешние зависимости движка наград
type Dependencies struct {
	Users    UserStore
	Orders   OrderStore
	Wallet   Wallet
	Settings SettingsProvider
	Policy   ApprovalPolicy
	Notifier Notifier
	Recorder Recorder
}

// Engine решает, начислять ли награду пригласившему
type Engine struct {
	users    UserStore
	orders   OrderStore
	wallet   Wallet
	settings SettingsProvider
	policy   ApprovalPolicy
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
}

// NewEngine создает движок наград
func NewEngine(deps Dependencies, logger *zap.Logger) *Engine {
	e := &Engine{
		users:    deps.Users,
		orders:   deps.Orders,
		wallet:   deps.Wallet,
		settings: deps.Settings,
		policy:   deps.Policy,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		logger:   logger,
	}
	if e.policy == nil {
		e.policy = ApproveAll{}
	}
	return e
}

// OnRegistration начисляет награду за регистрацию приглашенного пользователя.
// Вызывается после того, как пригласивший уже записан.
func (e *Engine) OnRegistration(ctx context.Context, userID int64) (Outcome, error) {
	outcome, err := e.onRegistration(ctx, userID)
	e.record(models.RewardTriggerSignup, outcome, err)
	return outcome, err
}

func (e *Engine) onRegistration(ctx context.Context, userID int64) (Outcome, error) {
	settings, err := e.settings.Load(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("ошибка загрузки настроек: %w", err)
	}
	if !settings.Enabled || settings.RequirePurchase || !settings.SignupAmount.IsPositive() {
		return OutcomeDisabled, nil
	}

	user, referrer, outcome, err := e.resolvePair(ctx, userID)
	if outcome != "" || err != nil {
		return outcome, err
	}

	amount := settings.SignupAmount
	if !e.policy.Approve(ctx, user, referrer, amount) {
		e.logger.Info("награда за регистрацию отклонена политикой",
			zap.Int64("user_id", user.ID),
			zap.Int64("referrer_id", referrer.ID))
		return OutcomeVetoed, nil
	}

	claimed, err := e.users.ClaimSignupReward(ctx, user.ID)
	if err != nil {
		return OutcomeError, fmt.Errorf("ошибка установки отметки о награде: %w", err)
	}
	if !claimed {
		e.logger.Info("награда за регистрацию уже начислена", zap.Int64("user_id", user.ID))
		return OutcomeAlreadyRewarded, nil
	}

	event := models.RewardEvent{
		Trigger:    models.RewardTriggerSignup,
		UserID:     user.ID,
		ReferrerID: referrer.ID,
		Amount:     amount,
		Memo:       RenderMemo(settings.DescriptionTemplate, models.RewardTriggerSignup, user.Name()),
	}

	if err := e.credit(ctx, event); err != nil {
		if e.creditMayHaveLanded(err, event) {
			return OutcomeError, err
		}
		if releaseErr := e.users.ReleaseSignupReward(ctx, user.ID); releaseErr != nil {
			e.logger.Error("не удалось снять отметку о награде за регистрацию",
				zap.Int64("user_id", user.ID),
				zap.Error(releaseErr))
		}
		return OutcomeError, err
	}

	return OutcomeRewarded, nil
}

// OnOrderStatusChanged начисляет награду, когда заказ приглашенного покупателя завершен.
// Награда за покупку начисляется не более одного раза на покупателя.
func (e *Engine) OnOrderStatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus models.OrderStatus) (Outcome, error) {
	outcome, err := e.onOrderStatusChanged(ctx, orderID, oldStatus, newStatus)
	e.record(models.RewardTriggerPurchase, outcome, err)
	return outcome, err
}

func (e *Engine) onOrderStatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus models.OrderStatus) (Outcome, error) {
	if newStatus != models.OrderStatusCompleted {
		return OutcomeIgnoredStatus, nil
	}

	settings, err := e.settings.Load(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("ошибка загрузки настроек: %w", err)
	}
	if !settings.Enabled || !settings.RequirePurchase || !settings.SignupAmount.IsPositive() {
		return OutcomeDisabled, nil
	}

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("заказ не найден", zap.Int64("order_id", orderID))
			return OutcomeNotFound, nil
		}
		return OutcomeError, fmt.Errorf("ошибка получения заказа: %w", err)
	}
	if order.CustomerID <= 0 {
		return OutcomeNotFound, nil
	}

	customer, referrer, outcome, err := e.resolvePair(ctx, order.CustomerID)
	if outcome != "" || err != nil {
		return outcome, err
	}

	if customer.RewardedForPurchase != nil {
		return OutcomeAlreadyRewarded, nil
	}

	if settings.PurchaseThreshold.IsPositive() {
		spent, err := e.orders.GetCustomerLifetimeValue(ctx, customer.ID)
		if err != nil {
			return OutcomeError, fmt.Errorf("ошибка получения суммы покупок: %w", err)
		}
		if spent.LessThan(settings.PurchaseThreshold) {
			e.logger.Info("сумма покупок ниже порога, награда отложена",
				zap.Int64("user_id", customer.ID),
				zap.Int64("order_id", orderID),
				zap.String("spent", spent.String()),
				zap.String("threshold", settings.PurchaseThreshold.String()))
			return OutcomeBelowThreshold, nil
		}
	}

	amount := settings.SignupAmount
	if !e.policy.Approve(ctx, customer, referrer, amount) {
		e.logger.Info("награда за покупку отклонена политикой",
			zap.Int64("user_id", customer.ID),
			zap.Int64("referrer_id", referrer.ID))
		return OutcomeVetoed, nil
	}

	orderRef := strconv.FormatInt(order.ID, 10)
	claimed, err := e.users.ClaimPurchaseReward(ctx, customer.ID, orderRef)
	if err != nil {
		return OutcomeError, fmt.Errorf("ошибка установки отметки о награде: %w", err)
	}
	if !claimed {
		e.logger.Info("награда за покупку уже начислена параллельным запросом",
			zap.Int64("user_id", customer.ID),
			zap.Int64("order_id", orderID))
		return OutcomeAlreadyRewarded, nil
	}

	event := models.RewardEvent{
		Trigger:    models.RewardTriggerPurchase,
		UserID:     customer.ID,
		ReferrerID: referrer.ID,
		OrderID:    order.ID,
		Amount:     amount,
		Memo:       RenderMemo(settings.DescriptionTemplate, models.RewardTriggerPurchase, customer.Name()),
	}

	if err := e.credit(ctx, event); err != nil {
		if e.creditMayHaveLanded(err, event) {
			return OutcomeError, err
		}
		// Зачисления не было, отметку снимаем, чтобы следующий заказ мог получить награду
		if releaseErr := e.users.ReleasePurchaseReward(ctx, customer.ID, orderRef); releaseErr != nil {
			e.logger.Error("не удалось снять отметку о награде за покупку",
				zap.Int64("user_id", customer.ID),
				zap.String("order_ref", orderRef),
				zap.Error(releaseErr))
		}
		return OutcomeError, err
	}

	return OutcomeRewarded, nil
}

// resolvePair находит приглашенного пользователя и его пригласившего.
// Непустой Outcome означает, что обработку нужно прекратить.
func (e *Engine) resolvePair(ctx context.Context, userID int64) (*models.User, *models.User, Outcome, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, OutcomeNotFound, nil
		}
		return nil, nil, OutcomeError, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	if !user.HasReferrer() {
		return nil, nil, OutcomeNoReferrer, nil
	}

	referrer, err := e.users.GetByID(ctx, *user.ReferrerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, OutcomeNoReferrer, nil
		}
		return nil, nil, OutcomeError, fmt.Errorf("ошибка получения пригласившего: %w", err)
	}

	return user, referrer, "", nil
}

func (e *Engine) credit(ctx context.Context, event models.RewardEvent) error {
	txn, err := e.wallet.Credit(ctx, event.ReferrerID, event.Amount, event.Memo)
	if err != nil {
		return fmt.Errorf("ошибка зачисления награды: %w", err)
	}

	e.logger.Info("реферальная награда начислена",
		zap.String("trigger", string(event.Trigger)),
		zap.Int64("user_id", event.UserID),
		zap.Int64("referrer_id", event.ReferrerID),
		zap.Int64("order_id", event.OrderID),
		zap.String("amount", event.Amount.String()),
		zap.String("transaction_id", txn.ID))

	if e.recorder != nil {
		e.recorder.RecordRewardAmount(string(event.Trigger), event.Amount.InexactFloat64())
	}

	if e.notifier != nil {
		if err := e.notifier.RewardGranted(ctx, event); err != nil {
			e.logger.Warn("не удалось отправить уведомление о награде", zap.Error(err))
		}
	}

	return nil
}

// creditMayHaveLanded сообщает, что зачисление могло пройти, несмотря на ошибку.
// В этом случае отметка о награде остается, расхождение разбирается вручную.
func (e *Engine) creditMayHaveLanded(err error, event models.RewardEvent) bool {
	if !errors.Is(err, store.ErrCommitUncertain) {
		return false
	}
	e.logger.Error("результат зачисления неизвестен, отметка о награде сохранена",
		zap.String("trigger", string(event.Trigger)),
		zap.Int64("user_id", event.UserID),
		zap.Int64("referrer_id", event.ReferrerID),
		zap.Int64("order_id", event.OrderID),
		zap.Error(err))
	return true
}

func (e *Engine) record(trigger models.RewardTrigger, outcome Outcome, err error) {
	if e.recorder == nil {
		return
	}
	if err != nil {
		outcome = OutcomeError
	}
	e.recorder.RecordReward(string(trigger), string(outcome))
}
