package referral

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wallet-referrals/internal/store/memstore"
	"wallet-referrals/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// sequenceGenerator возвращает коды по номеру попытки
type sequenceGenerator []string

func (g sequenceGenerator) Generate(userID int64, attempt int) string {
	return g[attempt%len(g)]
}

type countingRecorder struct{ codes int }

func (r *countingRecorder) RecordCodeGenerated() { r.codes++ }

func newTestService(t *testing.T, users *memstore.Users, gen CodeGenerator) *Service {
	t.Helper()
	return NewService(users, Config{
		RegistrationURL: "https://shop.example/register",
		Generator:       gen,
	}, zap.NewNop())
}

func strPtr(s string) *string { return &s }

func TestGetOrCreateCodeIsIdempotent(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 1, Username: "alice"})
	recorder := &countingRecorder{}
	svc := NewService(users, Config{Recorder: recorder}, zap.NewNop())
	ctx := context.Background()

	first, err := svc.GetOrCreateCode(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, first, 8)

	second, err := svc.GetOrCreateCode(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, users.CodeWrites, "второй вызов не должен записывать код")
	assert.Equal(t, 1, recorder.codes)
}

func TestGetOrCreateCodeRetriesOnCollision(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(
		&models.User{ID: 1, Username: "alice", ReferralCode: strPtr("deadbeef")},
		&models.User{ID: 2, Username: "bob"},
	)
	svc := newTestService(t, users, sequenceGenerator{"deadbeef", "cafebabe"})

	code, err := svc.GetOrCreateCode(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", code)
}

func TestGetOrCreateCodeGivesUpAfterMaxAttempts(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(
		&models.User{ID: 1, Username: "alice", ReferralCode: strPtr("deadbeef")},
		&models.User{ID: 2, Username: "bob"},
	)
	svc := newTestService(t, users, sequenceGenerator{"deadbeef"})

	_, err := svc.GetOrCreateCode(context.Background(), 2)
	assert.Error(t, err)
}

func TestGetOrCreateCodeUnknownUser(t *testing.T) {
	svc := newTestService(t, memstore.NewUsers(), nil)

	_, err := svc.GetOrCreateCode(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.GetOrCreateCode(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestGetOrCreateCodePropagatesStorageErrors(t *testing.T) {
	users := memstore.NewUsers()
	users.Err = errors.New("база недоступна")
	svc := newTestService(t, users, nil)

	_, err := svc.GetOrCreateCode(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestChecksumGenerator(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	gen := ChecksumGenerator{Now: func() time.Time { return fixed }}

	code := gen.Generate(7, 0)
	assert.Regexp(t, `^[0-9a-f]{8}$`, code)
	assert.Equal(t, code, gen.Generate(7, 0), "при одинаковом времени код детерминирован")
	assert.NotEqual(t, code, gen.Generate(8, 0))
	assert.NotEqual(t, code, gen.Generate(7, 1))
}

func TestResolveCode(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 5, Username: "carol", ReferralCode: strPtr("0badc0de")})
	svc := newTestService(t, users, nil)
	ctx := context.Background()

	id, err := svc.ResolveCode(ctx, "0badc0de")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	id, err = svc.ResolveCode(ctx, " 0badc0de ")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	_, err = svc.ResolveCode(ctx, "ffffffff")
	assert.ErrorIs(t, err, ErrCodeNotFound)

	_, err = svc.ResolveCode(ctx, "")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestBuildSignupLink(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 1, Username: "alice", ReferralCode: strPtr("abc12345")})
	svc := newTestService(t, users, nil)

	tests := []struct {
		name     string
		baseLink string
		expected string
	}{
		{"ссылка без query", "https://x/reg", "https://x/reg?referrer=abc12345"},
		{"ссылка с query", "https://x/reg?a=1", "https://x/reg?a=1&referrer=abc12345"},
		{"пустая ссылка", "", "https://shop.example/register?referrer=abc12345"},
		{"ссылка из пробелов", "   ", "https://shop.example/register?referrer=abc12345"},
		{"ссылка с пустым query", "https://x/reg?", "https://x/reg?referrer=abc12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := svc.BuildSignupLink(context.Background(), 1, tt.baseLink)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, link)
		})
	}
}

func TestSaveReferrerIsImmutable(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(
		&models.User{ID: 1, Username: "r1"},
		&models.User{ID: 2, Username: "r2"},
		&models.User{ID: 3, Username: "newbie"},
	)
	svc := newTestService(t, users, nil)
	ctx := context.Background()

	saved, err := svc.SaveReferrer(ctx, 3, 1)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = svc.SaveReferrer(ctx, 3, 2)
	require.NoError(t, err)
	assert.False(t, saved)

	referrer, err := svc.GetReferrer(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), referrer)
}

func TestSaveReferrerRejectsSelfReferral(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 1, Username: "alice"})
	svc := newTestService(t, users, nil)
	ctx := context.Background()

	saved, err := svc.SaveReferrer(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrSelfReferral)
	assert.False(t, saved)

	referrer, err := svc.GetReferrer(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, referrer)
}

func TestSaveReferrerUnknownReferrer(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 1, Username: "alice"})
	svc := newTestService(t, users, nil)

	saved, err := svc.SaveReferrer(context.Background(), 1, 99)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestGetReferredUsers(t *testing.T) {
	users := memstore.NewUsers()
	users.Add(&models.User{ID: 1, Username: "referrer"}, &models.User{ID: 2, Username: "other"})
	for i := int64(10); i < 15; i++ {
		users.Add(&models.User{ID: i, Username: fmt.Sprintf("user%d", i)})
	}
	svc := newTestService(t, users, nil)
	ctx := context.Background()

	for _, id := range []int64{10, 12, 14} {
		_, err := svc.SaveReferrer(ctx, id, 1)
		require.NoError(t, err)
	}
	_, err := svc.SaveReferrer(ctx, 11, 2)
	require.NoError(t, err)

	referred, err := svc.GetReferredUsers(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 12, 14}, referred)

	referred, err = svc.GetReferredUsers(ctx, 13)
	require.NoError(t, err)
	assert.Empty(t, referred)

	stats, err := svc.GetStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ReferredCount)
	assert.NotEmpty(t, stats.ReferralCode)
}
