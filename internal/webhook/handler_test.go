package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wallet-referrals/internal/attribution"
	"wallet-referrals/internal/referral"
	"wallet-referrals/internal/reward"
	"wallet-referrals/internal/store/memstore"
	"wallet-referrals/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "webhook-secret"

type fixture struct {
	users    *memstore.Users
	orders   *memstore.Orders
	wallet   *memstore.Wallet
	settings *memstore.Settings
	tracker  *attribution.Tracker
	handler  *Handler
}

func newFixture(t *testing.T, settings models.RewardSettings, secret string) *fixture {
	t.Helper()

	code := "abcd1234"
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 1, Username: "alice", ReferralCode: &code})

	f := &fixture{
		users:    users,
		orders:   memstore.NewOrders(),
		wallet:   memstore.NewWallet(),
		settings: memstore.NewSettings(settings),
	}

	referrals := referral.NewService(users, referral.Config{}, zap.NewNop())
	tracker, err := attribution.NewTracker(referrals, referrals, users, attribution.Config{
		Secret:    []byte("cookie-secret-0123456789"),
		Namespace: "test",
	}, zap.NewNop())
	require.NoError(t, err)
	f.tracker = tracker

	engine := reward.NewEngine(reward.Dependencies{
		Users:    users,
		Orders:   f.orders,
		Wallet:   f.wallet,
		Settings: f.settings,
	}, zap.NewNop())

	pipeline := NewRegistrationPipeline(tracker, engine, zap.NewNop())
	f.handler = NewHandler(users, f.orders, pipeline, engine, secret, nil, zap.NewNop())

	return f
}

// stagedCookie имитирует переход посетителя по реферальной ссылке
func (f *fixture) stagedCookie(t *testing.T) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	_, err := f.tracker.Stage(context.Background(), rec, httptest.NewRequest(http.MethodGet, "/?referrer=abcd1234", nil), 0)
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func signedRequest(path, body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, []byte(body)))
	}
	return req
}

func enabledSettings(requirePurchase bool) models.RewardSettings {
	s := models.DefaultRewardSettings()
	s.Enabled = true
	s.RequirePurchase = requirePurchase
	s.PurchaseThreshold = decimal.Zero
	return s
}

func TestRegistrationWebhook(t *testing.T) {
	f := newFixture(t, enabledSettings(false), testSecret)
	cookie := f.stagedCookie(t)

	req := signedRequest("/hooks/registration", `{"user_id":2,"username":"bob","display_name":"Bob"}`, testSecret)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	f.handler.HandleRegistration(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result RegistrationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(2), result.UserID)
	assert.Equal(t, int64(1), result.ReferrerID)
	assert.Equal(t, reward.OutcomeRewarded, result.Outcome)

	user, err := f.users.GetByID(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, user.ReferrerID)
	assert.Equal(t, int64(1), *user.ReferrerID)

	txns := f.wallet.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, "Referred by Bob.", txns[0].Memo)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == f.tracker.CookieName() && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "ответ должен удалять cookie привязки")
}

func TestRegistrationWebhookWithoutCookie(t *testing.T) {
	f := newFixture(t, enabledSettings(false), "")

	rec := httptest.NewRecorder()
	f.handler.HandleRegistration(rec, signedRequest("/hooks/registration", `{"user_id":2,"username":"bob"}`, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var result RegistrationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, reward.OutcomeNoReferrer, result.Outcome)
	assert.Empty(t, f.wallet.Transactions())
}

func TestWebhookRejections(t *testing.T) {
	f := newFixture(t, enabledSettings(false), testSecret)

	tests := []struct {
		name     string
		req      *http.Request
		expected int
	}{
		{
			name:     "неверный метод",
			req:      httptest.NewRequest(http.MethodGet, "/hooks/registration", nil),
			expected: http.StatusMethodNotAllowed,
		},
		{
			name:     "без подписи",
			req:      signedRequest("/hooks/registration", `{"user_id":2}`, ""),
			expected: http.StatusUnauthorized,
		},
		{
			name:     "чужая подпись",
			req:      signedRequest("/hooks/registration", `{"user_id":2}`, "other-secret"),
			expected: http.StatusUnauthorized,
		},
		{
			name:     "битый JSON",
			req:      signedRequest("/hooks/registration", `{"user_id":`, testSecret),
			expected: http.StatusBadRequest,
		},
		{
			name:     "без ID пользователя",
			req:      signedRequest("/hooks/registration", `{"username":"bob"}`, testSecret),
			expected: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler.HandleRegistration(rec, tt.req)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestRegistrationWebhookStorageFailure(t *testing.T) {
	f := newFixture(t, enabledSettings(false), "")
	f.users.Err = errors.New("база недоступна")

	rec := httptest.NewRecorder()
	f.handler.HandleRegistration(rec, signedRequest("/hooks/registration", `{"user_id":2}`, ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOrderStatusWebhook(t *testing.T) {
	f := newFixture(t, enabledSettings(true), testSecret)
	referrerID := int64(1)
	f.users.Add(&models.User{ID: 2, Username: "bob", ReferrerID: &referrerID})

	send := func(body string) OrderStatusResult {
		rec := httptest.NewRecorder()
		f.handler.HandleOrderStatus(rec, signedRequest("/hooks/order-status", body, testSecret))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var result OrderStatusResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		return result
	}

	result := send(`{"order_id":10,"old_status":"pending","new_status":"processing","customer_id":2,"total":"25.50"}`)
	assert.Equal(t, reward.OutcomeIgnoredStatus, result.Outcome)

	result = send(`{"order_id":10,"old_status":"processing","new_status":"completed"}`)
	assert.Equal(t, reward.OutcomeRewarded, result.Outcome)

	order, err := f.orders.GetByID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(2), order.CustomerID)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("25.50")))

	result = send(`{"order_id":11,"old_status":"processing","new_status":"completed","customer_id":2,"total":40}`)
	assert.Equal(t, reward.OutcomeAlreadyRewarded, result.Outcome)

	assert.Len(t, f.wallet.Transactions(), 1)
}

func TestOrderStatusWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t, enabledSettings(true), "")

	rec := httptest.NewRecorder()
	f.handler.HandleOrderStatus(rec, signedRequest("/hooks/order-status", `{"order_id":99,"old_status":"processing","new_status":"completed"}`, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(reward.OutcomeNotFound))

	_, err := f.orders.GetByID(context.Background(), 99)
	assert.Error(t, err, "заказ без данных о покупателе не должен сохраняться")
}

func TestOrderStatusWebhookCustomStatus(t *testing.T) {
	f := newFixture(t, enabledSettings(true), "")
	referrerID := int64(1)
	f.users.Add(&models.User{ID: 2, Username: "bob", ReferrerID: &referrerID})

	rec := httptest.NewRecorder()
	f.handler.HandleOrderStatus(rec, signedRequest("/hooks/order-status",
		`{"order_id":7,"old_status":"processing","new_status":"shipped","customer_id":2,"total":30}`, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(reward.OutcomeIgnoredStatus))

	order, err := f.orders.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatus("shipped"), order.Status)
	assert.Empty(t, f.wallet.Transactions())
}

func TestOrderStatusWebhookRejectsMalformedStatus(t *testing.T) {
	f := newFixture(t, enabledSettings(true), "")

	for _, body := range []string{
		`{"order_id":1,"new_status":""}`,
		`{"order_id":1,"new_status":" completed"}`,
		`{"order_id":1,"new_status":"` + strings.Repeat("x", 33) + `"}`,
	} {
		rec := httptest.NewRecorder()
		f.handler.HandleOrderStatus(rec, signedRequest("/hooks/order-status", body, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

type recorderFunc func(hook string, status int, duration time.Duration)

func (f recorderFunc) RecordWebhook(hook string, status int, duration time.Duration) {
	f(hook, status, duration)
}

func TestWebhookRecordsMetrics(t *testing.T) {
	f := newFixture(t, enabledSettings(true), "")

	var hooks []string
	var statuses []int
	f.handler.recorder = recorderFunc(func(hook string, status int, _ time.Duration) {
		hooks = append(hooks, hook)
		statuses = append(statuses, status)
	})

	f.handler.HandleOrderStatus(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/hooks/order-status", nil))
	f.handler.HandleRegistration(httptest.NewRecorder(), signedRequest("/hooks/registration", `{"user_id":5}`, ""))

	assert.Equal(t, []string{"order_status", "registration"}, hooks)
	assert.Equal(t, []int{http.StatusMethodNotAllowed, http.StatusOK}, statuses)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"user_id":1}`)
	signature := Sign("secret", body)

	assert.True(t, verifySignature("", "", body))
	assert.True(t, verifySignature("secret", signature, body))
	assert.True(t, verifySignature("secret", "sha256="+strings.ToUpper(signature), body))
	assert.False(t, verifySignature("secret", "", body))
	assert.False(t, verifySignature("secret", "zz", body))
	assert.False(t, verifySignature("secret", signature, []byte(`{"user_id":2}`)))
}
