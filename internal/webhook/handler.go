package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"wallet-referrals/internal/reward"
	"wallet-referrals/internal/store"
	"wallet-referrals/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxBodySize ограничение размера тела вебхука
const maxBodySize = 1 << 20

// UserMirror сохраняет копию пользователя платформы
type UserMirror interface {
	Upsert(ctx context.Context, user *models.User) error
}

// OrderMirror сохраняет копию заказа платформы
type OrderMirror interface {
	Upsert(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
}

// OrderRewarder начисляет награду за покупку
type OrderRewarder interface {
	OnOrderStatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus models.OrderStatus) (reward.Outcome, error)
}

// Recorder принимает события для метрик
type Recorder interface {
	RecordWebhook(hook string, status int, duration time.Duration)
}

// RegistrationEvent уведомление о созданной учетной записи
type RegistrationEvent struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// OrderStatusEvent уведомление о смене статуса заказа
type OrderStatusEvent struct {
	OrderID    int64              `json:"order_id"`
	OldStatus  models.OrderStatus `json:"old_status"`
	NewStatus  models.OrderStatus `json:"new_status"`
	CustomerID *int64             `json:"customer_id,omitempty"`
	Total      *decimal.Decimal   `json:"total,omitempty"`
}

// OrderStatusResult итог обработки смены статуса
type OrderStatusResult struct {
	OrderID int64          `json:"order_id"`
	Outcome reward.Outcome `json:"outcome"`
}

// Handler обрабатывает вебхуки платформы
type Handler struct {
	users        UserMirror
	orders       OrderMirror
	registration *RegistrationPipeline
	rewards      OrderRewarder
	secret       string
	recorder     Recorder
	logger       *zap.Logger
}

// NewHandler создает обработчик вебхуков
func NewHandler(users UserMirror, orders OrderMirror, registration *RegistrationPipeline, rewards OrderRewarder, secret string, recorder Recorder, logger *zap.Logger) *Handler {
	return &Handler{
		users:        users,
		orders:       orders,
		registration: registration,
		rewards:      rewards,
		secret:       secret,
		recorder:     recorder,
		logger:       logger,
	}
}

// HandleRegistration обрабатывает POST /hooks/registration.
// Платформа пересылает Cookie браузера и должна вернуть ему Set-Cookie из ответа.
func (h *Handler) HandleRegistration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.handleRegistration(w, r)
	h.record("registration", status, start)
}

func (h *Handler) handleRegistration(w http.ResponseWriter, r *http.Request) int {
	body, status := h.readVerified(w, r)
	if status != 0 {
		return status
	}

	var event RegistrationEvent
	if err := json.Unmarshal(body, &event); err != nil || event.UserID <= 0 {
		h.logger.Warn("некорректный вебхук регистрации", zap.Error(err))
		return h.fail(w, http.StatusBadRequest, "Bad request")
	}

	ctx := r.Context()
	user := &models.User{ID: event.UserID, Username: event.Username, DisplayName: event.DisplayName}
	if err := h.users.Upsert(ctx, user); err != nil {
		h.logger.Error("ошибка сохранения пользователя", zap.Int64("user_id", event.UserID), zap.Error(err))
		return h.fail(w, http.StatusInternalServerError, "Internal server error")
	}

	result, err := h.registration.Handle(ctx, w, r, event.UserID)
	if err != nil {
		return h.fail(w, http.StatusInternalServerError, "Internal server error")
	}

	return h.respond(w, result)
}

// HandleOrderStatus обрабатывает POST /hooks/order-status
func (h *Handler) HandleOrderStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.handleOrderStatus(w, r)
	h.record("order_status", status, start)
}

func (h *Handler) handleOrderStatus(w http.ResponseWriter, r *http.Request) int {
	body, status := h.readVerified(w, r)
	if status != 0 {
		return status
	}

	var event OrderStatusEvent
	if err := json.Unmarshal(body, &event); err != nil || event.OrderID <= 0 || !event.NewStatus.IsValid() {
		h.logger.Warn("некорректный вебхук статуса заказа", zap.Error(err))
		return h.fail(w, http.StatusBadRequest, "Bad request")
	}

	h.logger.Info("получена смена статуса заказа",
		zap.Int64("order_id", event.OrderID),
		zap.String("old_status", string(event.OldStatus)),
		zap.String("new_status", string(event.NewStatus)))

	ctx := r.Context()
	if err := h.mirrorOrder(ctx, event); err != nil {
		h.logger.Error("ошибка сохранения заказа", zap.Int64("order_id", event.OrderID), zap.Error(err))
		return h.fail(w, http.StatusInternalServerError, "Internal server error")
	}

	outcome, err := h.rewards.OnOrderStatusChanged(ctx, event.OrderID, event.OldStatus, event.NewStatus)
	if err != nil {
		h.logger.Error("ошибка обработки награды за покупку", zap.Int64("order_id", event.OrderID), zap.Error(err))
		return h.fail(w, http.StatusInternalServerError, "Internal server error")
	}

	return h.respond(w, OrderStatusResult{OrderID: event.OrderID, Outcome: outcome})
}

// mirrorOrder обновляет локальную копию заказа.
// Без данных о покупателе неизвестный заказ не создается.
func (h *Handler) mirrorOrder(ctx context.Context, event OrderStatusEvent) error {
	order, err := h.orders.GetByID(ctx, event.OrderID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if event.CustomerID == nil && event.Total == nil {
			return nil
		}
		order = &models.Order{ID: event.OrderID}
	}

	order.Status = event.NewStatus
	if event.CustomerID != nil {
		order.CustomerID = *event.CustomerID
	}
	if event.Total != nil {
		order.Total = *event.Total
	}

	return h.orders.Upsert(ctx, order)
}

// readVerified читает тело и проверяет подпись. Ненулевой статус означает, что ответ уже отправлен.
func (h *Handler) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, int) {
	if r.Method != http.MethodPost {
		h.logger.Warn("неверный метод webhook запроса", zap.String("method", r.Method))
		return nil, h.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		return nil, h.fail(w, http.StatusBadRequest, "Bad request")
	}
	defer r.Body.Close()

	if !verifySignature(h.secret, r.Header.Get(SignatureHeader), body) {
		h.logger.Warn("неверная подпись webhook'а", zap.String("path", r.URL.Path))
		return nil, h.fail(w, http.StatusUnauthorized, "Unauthorized")
	}

	return body, 0
}

func (h *Handler) respond(w http.ResponseWriter, payload interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("ошибка записи ответа", zap.Error(err))
	}
	return http.StatusOK
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string) int {
	http.Error(w, message, status)
	return status
}

func (h *Handler) record(hook string, status int, start time.Time) {
	if h.recorder != nil {
		h.recorder.RecordWebhook(hook, status, time.Since(start))
	}
	h.logger.Debug("webhook обработан",
		zap.String("hook", hook),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)))
}
