package store

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"wallet-referrals/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testDB подключается к отдельной тестовой базе из TEST_DATABASE_URL.
// Таблицы очищаются перед каждым тестом.
func testDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан, тесты с PostgreSQL пропущены")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, goose.SetDialect("postgres"))
	goose.SetLogger(goose.NopLogger())
	require.NoError(t, goose.Up(sqlDB, "../../scripts/migrations"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Exec(ctx, `TRUNCATE wallet_transactions, wallets, orders, referral_settings, users`)
	require.NoError(t, err)

	return db
}

func addUsers(t *testing.T, repo UserRepository, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, repo.Upsert(context.Background(), &models.User{ID: id, Username: "user"}))
	}
}

func TestSetReferralCodeIfAbsentDB(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()
	addUsers(t, repo, 1, 2)

	code, err := repo.SetReferralCodeIfAbsent(ctx, 1, "aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, "aaaa0001", code)

	// Второй код не перезаписывает первый
	code, err = repo.SetReferralCodeIfAbsent(ctx, 1, "bbbb0002")
	require.NoError(t, err)
	assert.Equal(t, "aaaa0001", code)

	_, err = repo.SetReferralCodeIfAbsent(ctx, 2, "aaaa0001")
	assert.ErrorIs(t, err, ErrCodeTaken)

	_, err = repo.SetReferralCodeIfAbsent(ctx, 42, "cccc0003")
	assert.ErrorIs(t, err, ErrNotFound)

	user, err := repo.GetByReferralCode(ctx, "aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
}

func TestSetReferrerIfAbsentDB(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()
	addUsers(t, repo, 1, 2, 3)

	saved, err := repo.SetReferrerIfAbsent(ctx, 3, 3)
	require.NoError(t, err)
	assert.False(t, saved, "самоприглашение не записывается")

	saved, err = repo.SetReferrerIfAbsent(ctx, 3, 99)
	require.NoError(t, err)
	assert.False(t, saved, "несуществующий пригласивший не записывается")

	saved, err = repo.SetReferrerIfAbsent(ctx, 3, 1)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = repo.SetReferrerIfAbsent(ctx, 3, 2)
	require.NoError(t, err)
	assert.False(t, saved)

	// Удаление пригласившего не освобождает место для новой привязки
	_, err = db.Exec(ctx, `DELETE FROM users WHERE id = 1`)
	require.NoError(t, err)

	saved, err = repo.SetReferrerIfAbsent(ctx, 3, 2)
	require.NoError(t, err)
	assert.False(t, saved)

	user, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, user.ReferrerID)
	assert.Equal(t, int64(1), *user.ReferrerID)
}

func TestClaimPurchaseRewardDB(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()
	addUsers(t, repo, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)
	refs := []string{"100", "101", "102", "103", "104", "105", "106", "107"}
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			ok, err := repo.ClaimPurchaseReward(ctx, 1, ref)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claimed = append(claimed, ref)
				mu.Unlock()
			}
		}(ref)
	}
	wg.Wait()
	require.Len(t, claimed, 1)

	// Снятие чужой отметки ничего не меняет
	other := "999"
	require.NoError(t, repo.ReleasePurchaseReward(ctx, 1, other))
	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.RewardedForPurchase)
	assert.Equal(t, claimed[0], *user.RewardedForPurchase)

	require.NoError(t, repo.ReleasePurchaseReward(ctx, 1, claimed[0]))
	user, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, user.RewardedForPurchase)
}

func TestClaimSignupRewardDB(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()
	addUsers(t, repo, 1)

	ok, err := repo.ClaimSignupReward(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimSignupReward(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.ReleaseSignupReward(ctx, 1))
	ok, err = repo.ClaimSignupReward(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetUnrewardedCompletedOrdersDB(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db, zap.NewNop())
	orders := NewOrderRepository(db, zap.NewNop())
	ctx := context.Background()
	addUsers(t, users, 1, 2, 3, 4, 5)

	for _, id := range []int64{2, 3, 4} {
		saved, err := users.SetReferrerIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.True(t, saved)
	}
	_, err := users.ClaimPurchaseReward(ctx, 4, "40")
	require.NoError(t, err)

	for _, o := range []models.Order{
		{ID: 20, CustomerID: 2, Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(10)},
		{ID: 21, CustomerID: 2, Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(10)},
		{ID: 30, CustomerID: 3, Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(10)},
		{ID: 40, CustomerID: 4, Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(10)},
		{ID: 50, CustomerID: 5, Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(10)},
	} {
		order := o
		require.NoError(t, orders.Upsert(ctx, &order))
	}

	page, err := orders.GetUnrewardedCompletedOrders(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)

	rest, err := orders.GetUnrewardedCompletedOrders(ctx, page[0], 10)
	require.NoError(t, err)

	all := append(page, rest...)
	require.Len(t, all, 2)
	assert.Equal(t, int64(30), all[1])
	assert.Contains(t, []int64{20, 21}, all[0])

	value, err := orders.GetCustomerLifetimeValue(ctx, 2)
	require.NoError(t, err)
	assert.True(t, value.Equal(decimal.NewFromInt(20)))
}

func TestWalletCreditDB(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db, zap.NewNop())
	wallet := NewWalletRepository(db, zap.NewNop())
	ctx := context.Background()
	addUsers(t, users, 1)

	_, err := wallet.Credit(ctx, 1, decimal.RequireFromString("10.50"), "Referred by Bob.")
	require.NoError(t, err)
	_, err = wallet.Credit(ctx, 1, decimal.NewFromInt(5), "Referred by Carol.")
	require.NoError(t, err)

	balance, err := wallet.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("15.50")))

	txns, err := wallet.GetTransactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	_, err = wallet.Credit(ctx, 1, decimal.Zero, "zero")
	assert.Error(t, err)
}
