package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ключи настроек реферальной программы
const (
	SettingEnabled             = "enabled"
	SettingRequirePurchase     = "require_purchase"
	SettingPurchaseThreshold   = "purchase_threshold"
	SettingSignupAmount        = "signup_amount"
	SettingDescriptionTemplate = "description_template"
)

// RewardSettings представляет настройки начисления реферальных наград
type RewardSettings struct {
	Enabled             bool            `json:"enabled"`
	RequirePurchase     bool            `json:"require_purchase"`   // Награда только после завершенного заказа
	PurchaseThreshold   decimal.Decimal `json:"purchase_threshold"` // Минимальная сумма покупок приглашенного
	SignupAmount        decimal.Decimal `json:"signup_amount"`
	DescriptionTemplate string          `json:"description_template"` // %s заменяется именем приглашенного
}

// DefaultRewardSettings возвращает настройки по умолчанию
func DefaultRewardSettings() RewardSettings {
	return RewardSettings{
		Enabled:             false,
		RequirePurchase:     false,
		PurchaseThreshold:   decimal.NewFromInt(10),
		SignupAmount:        decimal.NewFromInt(10),
		DescriptionTemplate: "Referred by %s.",
	}
}

// RewardTrigger событие, на которое начисляется награда
type RewardTrigger string

const (
	RewardTriggerSignup   RewardTrigger = "signup"
	RewardTriggerPurchase RewardTrigger = "purchase"
)

// RewardEvent описывает начисленную награду
type RewardEvent struct {
	Trigger    RewardTrigger   `json:"trigger"`
	UserID     int64           `json:"user_id"`
	ReferrerID int64           `json:"referrer_id"`
	OrderID    int64           `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Memo       string          `json:"memo"`
}

// Describe возвращает короткое описание события для уведомлений
func (e RewardEvent) Describe() string {
	if e.Trigger == RewardTriggerPurchase {
		return fmt.Sprintf("покупка по заказу #%d", e.OrderID)
	}
	return "регистрация"
}

// ReferralStats представляет статистику рефералов пользователя
type ReferralStats struct {
	UserID        int64  `json:"user_id"`
	ReferralCode  string `json:"referral_code"`
	ReferredCount int    `json:"referred_count"`
}
