package attribution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wallet-referrals/internal/referral"
	"wallet-referrals/internal/store"
	"wallet-referrals/pkg/models"

	"go.uber.org/zap"
)

// CodeResolver находит владельца реферального кода
type CodeResolver interface {
	ResolveCode(ctx context.Context, code string) (int64, error)
}

// ReferrerSaver записывает пригласившего пользователя
type ReferrerSaver interface {
	SaveReferrer(ctx context.Context, userID, referrerID int64) (bool, error)
}

// UserLookup проверяет существование пользователя
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// Recorder принимает события для метрик
type Recorder interface {
	RecordAttribution(stage, result string)
}

// Результаты этапов привязки для метрик и логов
const (
	ResultStaged       = "staged"
	ResultAttributed   = "attributed"
	ResultUnknownCode  = "unknown_code"
	ResultInvalidToken = "invalid_token"
	ResultNoReferrer   = "referrer_missing"
	ResultNotSaved     = "not_saved"
	ResultError        = "error"
)

// Config параметры трекера
type Config struct {
	Secret    []byte
	Namespace string
	TTL       time.Duration
	Secure    bool
	Now       func() time.Time
	Recorder  Recorder
}

// Tracker переносит реферальную привязку от перехода по ссылке до регистрации
// через подписанную cookie на стороне клиента
type Tracker struct {
	codes      CodeResolver
	referrals  ReferrerSaver
	users      UserLookup
	codec      *tokenCodec
	cookieName string
	ttl        time.Duration
	secure     bool
	recorder   Recorder
	logger     *zap.Logger
}

// NewTracker создает трекер привязок
func NewTracker(codes CodeResolver, referrals ReferrerSaver, users UserLookup, cfg Config, logger *zap.Logger) (*Tracker, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("секрет для подписи cookie не задан")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Tracker{
		codes:      codes,
		referrals:  referrals,
		users:      users,
		codec:      &tokenCodec{secret: cfg.Secret, ttl: cfg.TTL, now: cfg.Now},
		cookieName: CookieName(cfg.Namespace),
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// CookieName возвращает имя cookie трекера
func (t *Tracker) CookieName() string {
	return t.cookieName
}

// Stage сохраняет пригласившего в cookie, если неавторизованный посетитель пришел
// с реферальным кодом. Неизвестный код молча игнорируется. Возвращает ID пригласившего
// или 0, ошибка возвращается только при сбое хранилища.
func (t *Tracker) Stage(ctx context.Context, w http.ResponseWriter, r *http.Request, currentUserID int64) (int64, error) {
	if currentUserID != 0 {
		return 0, nil
	}

	code := referralCodeFromRequest(r)
	if code == "" {
		return 0, nil
	}

	referrerID, err := t.codes.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, referral.ErrCodeNotFound) {
			t.record("stage", ResultUnknownCode)
			t.logger.Debug("неизвестный реферальный код", zap.String("code", code))
			return 0, nil
		}
		t.record("stage", ResultError)
		return 0, fmt.Errorf("ошибка поиска реферального кода: %w", err)
	}

	token, expiresAt, err := t.codec.issue(referrerID)
	if err != nil {
		t.record("stage", ResultError)
		return 0, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     t.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(t.ttl / time.Second),
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})

	t.record("stage", ResultStaged)
	t.logger.Debug("реферальная привязка сохранена в cookie",
		zap.Int64("referrer_id", referrerID),
		zap.Time("expires_at", expiresAt))

	return referrerID, nil
}

// Consume записывает пригласившего для только что зарегистрированного пользователя
// и удаляет cookie. Должен вызываться после создания учетной записи.
// Возвращает ID записанного пригласившего или 0.
func (t *Tracker) Consume(ctx context.Context, w http.ResponseWriter, r *http.Request, newUserID int64) (int64, error) {
	cookie, err := r.Cookie(t.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return 0, nil
	}

	referrerID, err := t.codec.parse(strings.TrimSpace(cookie.Value))
	if err != nil {
		t.clearCookie(w)
		t.record("consume", ResultInvalidToken)
		t.logger.Debug("cookie привязки недействительна",
			zap.Int64("user_id", newUserID),
			zap.Error(err))
		return 0, nil
	}

	if _, err := t.users.GetByID(ctx, referrerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.clearCookie(w)
			t.record("consume", ResultNoReferrer)
			t.logger.Info("пригласивший пользователь не найден",
				zap.Int64("user_id", newUserID),
				zap.Int64("referrer_id", referrerID))
			return 0, nil
		}
		t.record("consume", ResultError)
		return 0, fmt.Errorf("ошибка получения пригласившего: %w", err)
	}

	saved, err := t.referrals.SaveReferrer(ctx, newUserID, referrerID)
	if err != nil {
		if errors.Is(err, referral.ErrSelfReferral) || errors.Is(err, referral.ErrInvalidUserID) {
			t.clearCookie(w)
			t.record("consume", ResultNotSaved)
			return 0, nil
		}
		t.record("consume", ResultError)
		return 0, err
	}

	t.clearCookie(w)

	if !saved {
		t.record("consume", ResultNotSaved)
		return 0, nil
	}

	t.record("consume", ResultAttributed)
	t.logger.Info("регистрация привязана к пригласившему",
		zap.Int64("user_id", newUserID),
		zap.Int64("referrer_id", referrerID))

	return referrerID, nil
}

func (t *Tracker) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (t *Tracker) record(stage, result string) {
	if t.recorder != nil {
		t.recorder.RecordAttribution(stage, result)
	}
}

// referralCodeFromRequest читает код из query или из тела формы
func referralCodeFromRequest(r *http.Request) string {
	if code := strings.TrimSpace(r.URL.Query().Get(referral.ParamName)); code != "" {
		return code
	}

	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return strings.TrimSpace(r.PostFormValue(referral.ParamName))
	}

	return ""
}
