package webhook

import (
	"context"
	"net/http"

	"wallet-referrals/internal/reward"

	"go.uber.org/zap"
)

// Consumer завершает отложенную реферальную привязку
type Consumer interface {
	Consume(ctx context.Context, w http.ResponseWriter, r *http.Request, newUserID int64) (int64, error)
}

// RegistrationRewarder начисляет награду за регистрацию
type RegistrationRewarder interface {
	OnRegistration(ctx context.Context, userID int64) (reward.Outcome, error)
}

// RegistrationResult итог обработки регистрации
type RegistrationResult struct {
	UserID     int64          `json:"user_id"`
	ReferrerID int64          `json:"referrer_id,omitempty"`
	Outcome    reward.Outcome `json:"outcome"`
}

// RegistrationPipeline выполняет шаги после создания учетной записи строго по порядку:
// сначала привязка к пригласившему, затем награда за регистрацию
type RegistrationPipeline struct {
	tracker Consumer
	rewards RegistrationRewarder
	logger  *zap.Logger
}

// NewRegistrationPipeline создает конвейер регистрации
func NewRegistrationPipeline(tracker Consumer, rewards RegistrationRewarder, logger *zap.Logger) *RegistrationPipeline {
	return &RegistrationPipeline{
		tracker: tracker,
		rewards: rewards,
		logger:  logger,
	}
}

// Handle обрабатывает регистрацию пользователя userID.
// Учетная запись к этому моменту уже должна существовать.
func (p *RegistrationPipeline) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, userID int64) (RegistrationResult, error) {
	result := RegistrationResult{UserID: userID}

	referrerID, err := p.tracker.Consume(ctx, w, r, userID)
	if err != nil {
		p.logger.Error("ошибка привязки регистрации к пригласившему",
			zap.Int64("user_id", userID),
			zap.Error(err))
		result.Outcome = reward.OutcomeError
		return result, err
	}
	result.ReferrerID = referrerID

	outcome, err := p.rewards.OnRegistration(ctx, userID)
	result.Outcome = outcome
	if err != nil {
		p.logger.Error("ошибка начисления награды за регистрацию",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return result, err
	}

	p.logger.Info("регистрация обработана",
		zap.Int64("user_id", userID),
		zap.Int64("referrer_id", referrerID),
		zap.String("outcome", string(outcome)))

	return result, nil
}
