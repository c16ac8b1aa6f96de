package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wallet-referrals/internal/store"
	"wallet-referrals/pkg/models"

	"go.uber.org/zap"
)

const maxCodeAttempts = 10

var (
	// ErrCodeNotFound реферальный код не принадлежит ни одному пользователю
	ErrCodeNotFound = errors.New("реферальный код не найден")
	// ErrUserNotFound пользователь не найден
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrSelfReferral пользователь не может пригласить сам себя
	ErrSelfReferral = errors.New("пользователь не может пригласить сам себя")
	// ErrInvalidUserID некорректный ID пользователя
	ErrInvalidUserID = errors.New("некорректный ID пользователя")
)

// UserRepository операции с пользователями, нужные реферальному сервису
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetReferralCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error)
	SetReferrerIfAbsent(ctx context.Context, userID, referrerID int64) (bool, error)
	GetReferredUserIDs(ctx context.Context, referrerID int64) ([]int64, error)
	CountReferred(ctx context.Context, referrerID int64) (int, error)
}

// Recorder принимает события для метрик
type Recorder interface {
	RecordCodeGenerated()
}

// Config параметры реферального сервиса
type Config struct {
	RegistrationURL string
	Generator       CodeGenerator
	LinkBuilder     LinkBuilder
	Recorder        Recorder
}

// Service представляет сервис реферальных кодов и связей
type Service struct {
	users           UserRepository
	registrationURL string
	generator       CodeGenerator
	links           LinkBuilder
	recorder        Recorder
	logger          *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(users UserRepository, cfg Config, logger *zap.Logger) *Service {
	s := &Service{
		users:           users,
		registrationURL: cfg.RegistrationURL,
		generator:       cfg.Generator,
		links:           cfg.LinkBuilder,
		recorder:        cfg.Recorder,
		logger:          logger,
	}
	if s.generator == nil {
		s.generator = ChecksumGenerator{}
	}
	if s.links == nil {
		s.links = QueryLinkBuilder{Param: ParamName}
	}
	return s
}

// GetOrCreateCode получает существующий или генерирует новый реферальный код
func (s *Service) GetOrCreateCode(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", ErrInvalidUserID
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	if user.ReferralCode != nil && strings.TrimSpace(*user.ReferralCode) != "" {
		return *user.ReferralCode, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.generator.Generate(userID, attempt)

		stored, err := s.users.SetReferralCodeIfAbsent(ctx, userID, code)
		if errors.Is(err, store.ErrCodeTaken) {
			s.logger.Warn("сгенерированный код уже существует, пробуем снова",
				zap.String("code", code),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", ErrUserNotFound
			}
			return "", fmt.Errorf("ошибка сохранения реферального кода: %w", err)
		}

		if stored == code {
			if s.recorder != nil {
				s.recorder.RecordCodeGenerated()
			}
			s.logger.Info("создан реферальный код",
				zap.Int64("user_id", userID),
				zap.String("code", code))
		}

		return stored, nil
	}

	return "", fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxCodeAttempts)
}

// ResolveCode возвращает ID владельца реферального кода
func (s *Service) ResolveCode(ctx context.Context, code string) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, ErrCodeNotFound
	}

	user, err := s.users.GetByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrCodeNotFound
		}
		return 0, fmt.Errorf("ошибка поиска реферального кода: %w", err)
	}

	return user.ID, nil
}

// BuildSignupLink формирует ссылку на регистрацию с реферальным кодом.
// Пустая baseLink заменяется адресом страницы регистрации.
func (s *Service) BuildSignupLink(ctx context.Context, userID int64, baseLink string) (string, error) {
	code, err := s.GetOrCreateCode(ctx, userID)
	if err != nil {
		return "", err
	}

	link := strings.TrimSpace(baseLink)
	if link == "" {
		link = s.registrationURL
	}

	return s.links.Build(link, code), nil
}

// GetReferredUsers возвращает ID пользователей, приглашенных userID
func (s *Service) GetReferredUsers(ctx context.Context, userID int64) ([]int64, error) {
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}

	ids, err := s.users.GetReferredUserIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения приглашенных пользователей: %w", err)
	}

	return ids, nil
}

// GetReferrer возвращает ID пригласившего или 0, если его нет
func (s *Service) GetReferrer(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, ErrInvalidUserID
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	if !user.HasReferrer() {
		return 0, nil
	}

	return *user.ReferrerID, nil
}

// SaveReferrer записывает пригласившего. Срабатывает только один раз:
// повторные вызовы для пользователя с уже записанным пригласившим ничего не меняют
// и возвращают false.
func (s *Service) SaveReferrer(ctx context.Context, userID, referrerID int64) (bool, error) {
	if userID <= 0 || referrerID <= 0 {
		return false, ErrInvalidUserID
	}
	if userID == referrerID {
		return false, ErrSelfReferral
	}

	saved, err := s.users.SetReferrerIfAbsent(ctx, userID, referrerID)
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения пригласившего: %w", err)
	}

	if saved {
		s.logger.Info("записан пригласивший пользователь",
			zap.Int64("user_id", userID),
			zap.Int64("referrer_id", referrerID))
	} else {
		s.logger.Debug("пригласивший не записан",
			zap.Int64("user_id", userID),
			zap.Int64("referrer_id", referrerID))
	}

	return saved, nil
}

// GetStats получает статистику рефералов пользователя
func (s *Service) GetStats(ctx context.Context, userID int64) (*models.ReferralStats, error) {
	code, err := s.GetOrCreateCode(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.users.CountReferred(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики рефералов: %w", err)
	}

	return &models.ReferralStats{
		UserID:        userID,
		ReferralCode:  code,
		ReferredCount: count,
	}, nil
}
