package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User представляет пользователя платформы
type User struct {
	ID                  int64      `json:"id" db:"id"`
	Username            string     `json:"username" db:"username"`
	DisplayName         string     `json:"display_name" db:"display_name"`
	ReferralCode        *string    `json:"referral_code" db:"referral_code"`                 // Реферальный код, создается лениво
	ReferrerID          *int64     `json:"referrer_id" db:"referrer_id"`                     // Кто пригласил, задается один раз
	RewardedForPurchase *string    `json:"rewarded_for_purchase" db:"rewarded_for_purchase"` // Заказ, за который уже начислена награда
	SignupRewardedAt    *time.Time `json:"signup_rewarded_at" db:"signup_rewarded_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Name возвращает имя для отображения в описании транзакций
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// HasReferrer проверяет, записан ли пригласивший пользователь
func (u *User) HasReferrer() bool {
	return u.ReferrerID != nil && *u.ReferrerID > 0
}

// OrderStatus статус заказа
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusFailed     OrderStatus = "failed"
)

// maxOrderStatusLen ограничение колонки orders.status
const maxOrderStatusLen = 32

// IsValid проверяет, что статус можно сохранить. Платформа может присылать
// собственные статусы помимо перечисленных, они допустимы.
func (s OrderStatus) IsValid() bool {
	trimmed := strings.TrimSpace(string(s))
	return trimmed != "" && trimmed == string(s) && len(s) <= maxOrderStatusLen
}

// Order представляет заказ покупателя
type Order struct {
	ID         int64           `json:"id" db:"id"`
	CustomerID int64           `json:"customer_id" db:"customer_id"` // 0 для гостевых заказов
	Status     OrderStatus     `json:"status" db:"status"`
	Total      decimal.Decimal `json:"total" db:"total"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionType тип операции по кошельку
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// WalletTransaction представляет запись об операции по кошельку
type WalletTransaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Type      TransactionType `json:"type" db:"type"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Memo      string          `json:"memo" db:"memo"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
