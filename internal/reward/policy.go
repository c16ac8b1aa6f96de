package reward

import (
	"context"
	"strings"

	"wallet-referrals/pkg/models"

	"github.com/shopspring/decimal"
)

// ApprovalPolicy может запретить конкретную награду для пары пользователь/пригласивший
type ApprovalPolicy interface {
	Approve(ctx context.Context, user, referrer *models.User, amount decimal.Decimal) bool
}

// ApproveAll одобряет любую награду
type ApproveAll struct{}

func (ApproveAll) Approve(ctx context.Context, user, referrer *models.User, amount decimal.Decimal) bool {
	return true
}

// PolicyFunc позволяет использовать функцию как ApprovalPolicy
type PolicyFunc func(ctx context.Context, user, referrer *models.User, amount decimal.Decimal) bool

func (f PolicyFunc) Approve(ctx context.Context, user, referrer *models.User, amount decimal.Decimal) bool {
	return f(ctx, user, referrer, amount)
}

const (
	defaultSignupMemo   = "Referred user %s signed up"
	defaultPurchaseMemo = "Referred user %s made a purchase"
)

// RenderMemo подставляет имя приглашенного в шаблон описания операции.
// Пустой шаблон заменяется описанием по умолчанию для каждого события.
func RenderMemo(template string, trigger models.RewardTrigger, name string) string {
	tpl := strings.TrimSpace(template)
	if tpl == "" {
		if trigger == models.RewardTriggerPurchase {
			tpl = defaultPurchaseMemo
		} else {
			tpl = defaultSignupMemo
		}
	}

	if !strings.Contains(tpl, "%s") {
		return tpl
	}
	// Заменяется только первый %s, прочие символы шаблона не интерпретируются
	return strings.Replace(tpl, "%s", name, 1)
}
