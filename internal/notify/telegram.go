package notify

import (
	"context"
	"fmt"
	"html"

	"wallet-referrals/pkg/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender отправляет сообщения в Telegram, реализуется *tgbotapi.BotAPI
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserLookup загружает пользователя для подписи уведомления
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// TelegramNotifier отправляет уведомления о наградах в служебный чат
type TelegramNotifier struct {
	bot    Sender
	chatID int64
	users  UserLookup
	logger *zap.Logger
}

// NewTelegramNotifier создает уведомитель
func NewTelegramNotifier(bot Sender, chatID int64, users UserLookup, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		users:  users,
		logger: logger,
	}
}

// RewardGranted сообщает о начисленной награде
func (n *TelegramNotifier) RewardGranted(ctx context.Context, event models.RewardEvent) error {
	referred := n.userName(ctx, event.UserID)
	referrer := n.userName(ctx, event.ReferrerID)

	text := fmt.Sprintf(`🎁 <b>Реферальная награда</b>

Пригласивший: %s
Приглашенный: %s
Событие: %s
Сумма: <b>%s</b>`,
		html.EscapeString(referrer),
		html.EscapeString(referred),
		html.EscapeString(event.Describe()),
		event.Amount.StringFixed(2))

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		// Если HTML не принят, отправляем обычный текст
		n.logger.Warn("ошибка отправки HTML уведомления, отправляем как обычный текст", zap.Error(err))

		plain := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("Реферальная награда %s: %s пригласил %s (%s)",
			event.Amount.StringFixed(2), referrer, referred, event.Describe()))
		if _, err := n.bot.Send(plain); err != nil {
			return fmt.Errorf("ошибка отправки уведомления: %w", err)
		}
	}

	n.logger.Debug("уведомление о награде отправлено",
		zap.Int64("chat_id", n.chatID),
		zap.Int64("referrer_id", event.ReferrerID))

	return nil
}

func (n *TelegramNotifier) userName(ctx context.Context, id int64) string {
	fallback := fmt.Sprintf("#%d", id)
	if n.users == nil {
		return fallback
	}

	user, err := n.users.GetByID(ctx, id)
	if err != nil {
		return fallback
	}
	if name := user.Name(); name != "" {
		return fmt.Sprintf("%s (#%d)", name, id)
	}
	return fallback
}
