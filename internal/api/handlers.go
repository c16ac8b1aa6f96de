package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"wallet-referrals/internal/attribution"
	"wallet-referrals/internal/referral"
	"wallet-referrals/pkg/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ReferralService операции реферального сервиса, доступные по HTTP
type ReferralService interface {
	GetOrCreateCode(ctx context.Context, userID int64) (string, error)
	BuildSignupLink(ctx context.Context, userID int64, baseLink string) (string, error)
	GetReferrer(ctx context.Context, userID int64) (int64, error)
	GetReferredUsers(ctx context.Context, userID int64) ([]int64, error)
	GetStats(ctx context.Context, userID int64) (*models.ReferralStats, error)
}

type ctxKey struct{}

type handlers struct {
	referrals       ReferralService
	sessions        attribution.SessionResolver
	registrationURL string
	logger          *zap.Logger
}

// userFromPath берет ID пользователя из пути /api/users/{id}
func (h *handlers) userFromPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// userFromSession берет ID текущего авторизованного пользователя
func (h *handlers) userFromSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := h.sessions.CurrentUserID(r)
		if id <= 0 {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func (h *handlers) referralCode(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	code, err := h.referrals.GetOrCreateCode(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "referral_code": code})
}

func (h *handlers) referralLink(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	link, err := h.referrals.BuildSignupLink(r.Context(), id, r.URL.Query().Get("base"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "referral_link": link})
}

func (h *handlers) referrer(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	referrerID, err := h.referrals.GetReferrer(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	var value interface{}
	if referrerID != 0 {
		value = referrerID
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "referrer_id": value})
}

func (h *handlers) referred(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	ids, err := h.referrals.GetReferredUsers(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "referred_users": ids})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.referrals.GetStats(r.Context(), userID(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// join отправляет посетителя на страницу регистрации.
// Реферальная cookie к этому моменту уже выставлена middleware привязки.
func (h *handlers) join(w http.ResponseWriter, r *http.Request) {
	if referrerID := attribution.StagedReferrer(r.Context()); referrerID != 0 {
		h.logger.Info("переход по реферальной ссылке",
			zap.Int64("referrer_id", referrerID))
	}

	target := h.registrationURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, referral.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, referral.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "invalid user id")
	default:
		h.logger.Error("ошибка обработки запроса",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
