package attribution

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"wallet-referrals/internal/referral"
	"wallet-referrals/internal/store/memstore"
	"wallet-referrals/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedEvents) RecordAttribution(stage, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stage+":"+result)
}

func (r *recordedEvents) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type fixture struct {
	users    *memstore.Users
	service  *referral.Service
	tracker  *Tracker
	now      time.Time
	recorder *recordedEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	code := "abcd1234"
	users := memstore.NewUsers()
	users.Add(
		&models.User{ID: 1, Username: "referrer", ReferralCode: &code},
		&models.User{ID: 2, Username: "newbie"},
		&models.User{ID: 3, Username: "another"},
	)

	f := &fixture{
		users:    users,
		now:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		recorder: &recordedEvents{},
	}
	f.service = referral.NewService(users, referral.Config{}, zap.NewNop())

	tracker, err := NewTracker(f.service, f.service, users, Config{
		Secret:    []byte("test-secret-0123456789"),
		Namespace: "test",
		Now:       func() time.Time { return f.now },
		Recorder:  f.recorder,
	}, zap.NewNop())
	require.NoError(t, err)
	f.tracker = tracker

	return f
}

// stage выполняет переход по реферальной ссылке и возвращает выданную cookie
func (f *fixture) stage(t *testing.T, code string) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/landing?referrer="+url.QueryEscape(code), nil)
	rec := httptest.NewRecorder()

	_, err := f.tracker.Stage(context.Background(), rec, req, 0)
	require.NoError(t, err)

	for _, c := range rec.Result().Cookies() {
		if c.Name == f.tracker.CookieName() {
			return c
		}
	}
	return nil
}

func (f *fixture) consume(t *testing.T, cookie *http.Cookie, userID int64) (int64, *httptest.ResponseRecorder) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/hooks/registration", nil)
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()

	referrerID, err := f.tracker.Consume(context.Background(), rec, req, userID)
	require.NoError(t, err)
	return referrerID, rec
}

func clearedCookie(rec *httptest.ResponseRecorder, name string) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestStageAndConsume(t *testing.T) {
	f := newFixture(t)

	cookie := f.stage(t, "abcd1234")
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, int(DefaultTTL/time.Second), cookie.MaxAge)

	f.now = f.now.Add(3 * 24 * time.Hour)
	referrerID, rec := f.consume(t, cookie, 2)

	assert.Equal(t, int64(1), referrerID)
	assert.True(t, clearedCookie(rec, f.tracker.CookieName()), "cookie должна быть удалена после регистрации")

	stored, err := f.service.GetReferrer(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)
	assert.Equal(t, 1, f.recorder.count("consume:"+ResultAttributed))
}

func TestConsumeExpiredToken(t *testing.T) {
	f := newFixture(t)

	cookie := f.stage(t, "abcd1234")
	require.NotNil(t, cookie)

	f.now = f.now.Add(7*24*time.Hour + time.Second)
	referrerID, rec := f.consume(t, cookie, 2)

	assert.Zero(t, referrerID)
	assert.True(t, clearedCookie(rec, f.tracker.CookieName()))

	stored, err := f.service.GetReferrer(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Equal(t, 1, f.recorder.count("consume:"+ResultInvalidToken))
}

func TestStageUnknownCodeIsSilent(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.stage(t, "nope"))
	assert.Equal(t, 1, f.recorder.count("stage:"+ResultUnknownCode))
}

func TestStageSkipsAuthenticatedUsers(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/?referrer=abcd1234", nil)
	rec := httptest.NewRecorder()

	referrerID, err := f.tracker.Stage(context.Background(), rec, req, 3)
	require.NoError(t, err)
	assert.Zero(t, referrerID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestStageReadsFormBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("referrer=abcd1234"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	referrerID, err := f.tracker.Stage(context.Background(), rec, req, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), referrerID)
}

func TestStagePropagatesStorageErrors(t *testing.T) {
	f := newFixture(t)
	f.users.Err = errors.New("база недоступна")

	req := httptest.NewRequest(http.MethodGet, "/?referrer=abcd1234", nil)
	_, err := f.tracker.Stage(context.Background(), httptest.NewRecorder(), req, 0)
	assert.Error(t, err)
}

func TestConsumeWithoutCookie(t *testing.T) {
	f := newFixture(t)

	referrerID, rec := f.consume(t, nil, 2)
	assert.Zero(t, referrerID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestConsumeTamperedToken(t *testing.T) {
	f := newFixture(t)

	cookie := f.stage(t, "abcd1234")
	require.NotNil(t, cookie)
	parts := strings.Split(cookie.Value, ".")
	require.Len(t, parts, 3)
	parts[2] = strings.Repeat("A", len(parts[2]))
	cookie.Value = strings.Join(parts, ".")

	referrerID, rec := f.consume(t, cookie, 2)
	assert.Zero(t, referrerID)
	assert.True(t, clearedCookie(rec, f.tracker.CookieName()))
}

func TestConsumeDeletedReferrer(t *testing.T) {
	f := newFixture(t)

	token, _, err := f.tracker.codec.issue(99)
	require.NoError(t, err)

	referrerID, _ := f.consume(t, &http.Cookie{Name: f.tracker.CookieName(), Value: token}, 2)
	assert.Zero(t, referrerID)
	assert.Equal(t, 1, f.recorder.count("consume:"+ResultNoReferrer))
}

func TestConsumeSelfReferral(t *testing.T) {
	f := newFixture(t)

	cookie := f.stage(t, "abcd1234")
	require.NotNil(t, cookie)

	referrerID, _ := f.consume(t, cookie, 1)
	assert.Zero(t, referrerID)

	stored, err := f.service.GetReferrer(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestConsumeKeepsFirstReferrer(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SaveReferrer(context.Background(), 2, 3)
	require.NoError(t, err)

	cookie := f.stage(t, "abcd1234")
	referrerID, _ := f.consume(t, cookie, 2)
	assert.Zero(t, referrerID)

	stored, err := f.service.GetReferrer(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored)
}

func TestNewTrackerRequiresSecret(t *testing.T) {
	_, err := NewTracker(nil, nil, nil, Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestCookieNameDependsOnNamespace(t *testing.T) {
	assert.Len(t, CookieName("a"), 32)
	assert.NotEqual(t, CookieName("a"), CookieName("b"))
	assert.Equal(t, CookieName("a"), CookieName("a"))
}

func TestMiddlewareStagesOncePerRequest(t *testing.T) {
	f := newFixture(t)

	var seen int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = StagedReferrer(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	mw := Middleware(f.tracker, HeaderSessionResolver{}, zap.NewNop())
	wrapped := mw(mw(handler))

	req := httptest.NewRequest(http.MethodGet, "/products?referrer=abcd1234", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(1), seen)
	assert.Equal(t, 1, f.recorder.count("stage:"+ResultStaged))
}

func TestMiddlewareSkipsLoggedInUsers(t *testing.T) {
	f := newFixture(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	wrapped := Middleware(f.tracker, HeaderSessionResolver{}, zap.NewNop())(handler)

	req := httptest.NewRequest(http.MethodGet, "/?referrer=abcd1234", nil)
	req.Header.Set(DefaultUserHeader, "3")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Empty(t, rec.Result().Cookies())
}

func TestHeaderSessionResolver(t *testing.T) {
	resolver := HeaderSessionResolver{}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Zero(t, resolver.CurrentUserID(req))

	req.Header.Set(DefaultUserHeader, "42")
	assert.Equal(t, int64(42), resolver.CurrentUserID(req))

	req.Header.Set(DefaultUserHeader, "garbage")
	assert.Zero(t, resolver.CurrentUserID(req))
}
