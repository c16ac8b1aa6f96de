// Package memstore содержит потокобезопасные in-memory реализации репозиториев.
// Используется в тестах сервисов вместо PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"wallet-referrals/internal/store"
	"wallet-referrals/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Users реализует store.UserRepository
type Users struct {
	mu    sync.Mutex
	users map[int64]*models.User

	// Err, если задана, возвращается из всех операций
	Err error
	// CodeWrites считает успешные записи реферального кода
	CodeWrites int
}

// NewUsers создает пустой репозиторий пользователей
func NewUsers() *Users {
	return &Users{users: make(map[int64]*models.User)}
}

// Add добавляет пользователей
func (u *Users) Add(users ...*models.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range users {
		cp := *user
		u.users[user.ID] = &cp
	}
}

func (u *Users) Upsert(ctx context.Context, user *models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	existing, ok := u.users[user.ID]
	if !ok {
		now := time.Now()
		existing = &models.User{ID: user.ID, CreatedAt: now}
		u.users[user.ID] = existing
	}
	existing.Username = user.Username
	existing.DisplayName = user.DisplayName
	existing.UpdatedAt = time.Now()
	*user = *existing
	return nil
}

func (u *Users) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	user, ok := u.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u *Users) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	for _, user := range u.users {
		if user.ReferralCode != nil && *user.ReferralCode == code {
			cp := *user
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (u *Users) SetReferralCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return "", u.Err
	}
	user, ok := u.users[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	if user.ReferralCode != nil {
		return *user.ReferralCode, nil
	}
	for _, other := range u.users {
		if other.ReferralCode != nil && *other.ReferralCode == code {
			return "", store.ErrCodeTaken
		}
	}
	user.ReferralCode = &code
	u.CodeWrites++
	return code, nil
}

func (u *Users) SetReferrerIfAbsent(ctx context.Context, userID, referrerID int64) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return false, u.Err
	}
	user, ok := u.users[userID]
	if !ok || userID == referrerID || user.ReferrerID != nil {
		return false, nil
	}
	if _, ok := u.users[referrerID]; !ok {
		return false, nil
	}
	id := referrerID
	user.ReferrerID = &id
	return true, nil
}

func (u *Users) GetReferredUserIDs(ctx context.Context, referrerID int64) ([]int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	ids := make([]int64, 0)
	for _, user := range u.users {
		if user.ReferrerID != nil && *user.ReferrerID == referrerID {
			ids = append(ids, user.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (u *Users) CountReferred(ctx context.Context, referrerID int64) (int, error) {
	ids, err := u.GetReferredUserIDs(ctx, referrerID)
	return len(ids), err
}

func (u *Users) ClaimPurchaseReward(ctx context.Context, userID int64, orderRef string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return false, u.Err
	}
	user, ok := u.users[userID]
	if !ok || user.RewardedForPurchase != nil {
		return false, nil
	}
	ref := orderRef
	user.RewardedForPurchase = &ref
	return true, nil
}

func (u *Users) ReleasePurchaseReward(ctx context.Context, userID int64, orderRef string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	if user, ok := u.users[userID]; ok && user.RewardedForPurchase != nil && *user.RewardedForPurchase == orderRef {
		user.RewardedForPurchase = nil
	}
	return nil
}

func (u *Users) ClaimSignupReward(ctx context.Context, userID int64) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return false, u.Err
	}
	user, ok := u.users[userID]
	if !ok || user.SignupRewardedAt != nil {
		return false, nil
	}
	now := time.Now()
	user.SignupRewardedAt = &now
	return true, nil
}

func (u *Users) ReleaseSignupReward(ctx context.Context, userID int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	if user, ok := u.users[userID]; ok {
		user.SignupRewardedAt = nil
	}
	return nil
}

// Orders реализует store.OrderRepository
type Orders struct {
	mu     sync.Mutex
	orders map[int64]*models.Order
	Err    error

	// Customers нужен для выборки заказов без награды
	Customers *Users
}

// NewOrders создает пустой репозиторий заказов
func NewOrders() *Orders {
	return &Orders{orders: make(map[int64]*models.Order)}
}

func (o *Orders) Upsert(ctx context.Context, order *models.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	now := time.Now()
	if existing, ok := o.orders[order.ID]; ok {
		order.CreatedAt = existing.CreatedAt
	} else {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	cp := *order
	o.orders[order.ID] = &cp
	return nil
}

func (o *Orders) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	order, ok := o.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (o *Orders) GetCustomerLifetimeValue(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return decimal.Zero, o.Err
	}
	total := decimal.Zero
	for _, order := range o.orders {
		if order.CustomerID != customerID {
			continue
		}
		if order.Status == models.OrderStatusCompleted || order.Status == models.OrderStatusProcessing {
			total = total.Add(order.Total)
		}
	}
	return total, nil
}

func (o *Orders) GetUnrewardedCompletedOrders(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Customers == nil {
		return []int64{}, nil
	}

	latest := make(map[int64]*models.Order)
	for _, order := range o.orders {
		if order.Status != models.OrderStatusCompleted || order.CustomerID <= 0 {
			continue
		}
		customer, err := o.Customers.GetByID(ctx, order.CustomerID)
		if err != nil || !customer.HasReferrer() || customer.RewardedForPurchase != nil {
			continue
		}
		if prev, ok := latest[order.CustomerID]; !ok || order.UpdatedAt.After(prev.UpdatedAt) ||
			(order.UpdatedAt.Equal(prev.UpdatedAt) && order.ID > prev.ID) {
			latest[order.CustomerID] = order
		}
	}

	ids := make([]int64, 0, len(latest))
	for _, order := range latest {
		if order.ID > afterID {
			ids = append(ids, order.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Wallet реализует store.WalletRepository
type Wallet struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	txns     []*models.WalletTransaction
	Err      error
}

// NewWallet создает пустой кошелек
func NewWallet() *Wallet {
	return &Wallet{balances: make(map[int64]decimal.Decimal)}
}

func (w *Wallet) Credit(ctx context.Context, userID int64, amount decimal.Decimal, memo string) (*models.WalletTransaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	txn := &models.WalletTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.TransactionTypeCredit,
		Amount:    amount,
		Memo:      memo,
		CreatedAt: time.Now(),
	}
	w.txns = append(w.txns, txn)
	w.balances[userID] = w.balances[userID].Add(amount)
	return txn, nil
}

func (w *Wallet) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return decimal.Zero, w.Err
	}
	return w.balances[userID], nil
}

func (w *Wallet) GetTransactions(ctx context.Context, userID int64, limit int) ([]*models.WalletTransaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	var out []*models.WalletTransaction
	for i := len(w.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if w.txns[i].UserID == userID {
			out = append(out, w.txns[i])
		}
	}
	return out, nil
}

// Transactions возвращает все операции в порядке создания
func (w *Wallet) Transactions() []*models.WalletTransaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*models.WalletTransaction, len(w.txns))
	copy(out, w.txns)
	return out
}

// Settings реализует store.SettingsRepository
type Settings struct {
	mu     sync.Mutex
	values map[string]string
	Err    error
}

// NewSettings создает хранилище настроек с указанными значениями
func NewSettings(s models.RewardSettings) *Settings {
	return &Settings{values: store.EncodeSettings(s)}
}

func (s *Settings) Load(ctx context.Context) (models.RewardSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.DefaultRewardSettings(), s.Err
	}
	return store.ApplySettings(models.DefaultRewardSettings(), s.values, zap.NewNop()), nil
}

func (s *Settings) Seed(ctx context.Context, defaults models.RewardSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range store.EncodeSettings(defaults) {
		if _, ok := s.values[key]; !ok {
			s.values[key] = value
		}
	}
	return nil
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.values[key] = value
	return nil
}

var (
	_ store.UserRepository     = (*Users)(nil)
	_ store.OrderRepository    = (*Orders)(nil)
	_ store.WalletRepository   = (*Wallet)(nil)
	_ store.SettingsRepository = (*Settings)(nil)
)
