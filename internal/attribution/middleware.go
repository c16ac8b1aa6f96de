package attribution

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultUserHeader заголовок, в котором шлюз передает ID авторизованного пользователя
const DefaultUserHeader = "X-User-ID"

type contextKey string

const stagedKey contextKey = "attribution.staged"

// SessionResolver определяет текущего пользователя запроса, 0 для анонимного
type SessionResolver interface {
	CurrentUserID(r *http.Request) int64
}

// HeaderSessionResolver читает ID пользователя из заголовка, выставленного шлюзом
type HeaderSessionResolver struct {
	Header string
}

// CurrentUserID возвращает ID из заголовка или 0
func (h HeaderSessionResolver) CurrentUserID(r *http.Request) int64 {
	header := h.Header
	if header == "" {
		header = DefaultUserHeader
	}

	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(header)), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// Middleware выполняет Stage один раз на каждый входящий запрос.
// Ошибки хранилища только логируются, запрос продолжается.
func Middleware(tracker *Tracker, sessions SessionResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, done := ctx.Value(stagedKey).(int64); done {
				next.ServeHTTP(w, r)
				return
			}

			referrerID, err := tracker.Stage(ctx, w, r, sessions.CurrentUserID(r))
			if err != nil {
				logger.Error("ошибка сохранения реферальной привязки",
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, stagedKey, referrerID)))
		})
	}
}

// StagedReferrer возвращает ID пригласившего, сохраненного в текущем запросе
func StagedReferrer(ctx context.Context) int64 {
	id, _ := ctx.Value(stagedKey).(int64)
	return id
}
