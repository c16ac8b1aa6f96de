package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// Счетчики
	codesGenerated prometheus.Counter
	attributions   *prometheus.CounterVec
	rewards        *prometheus.CounterVec
	webhooks       *prometheus.CounterVec

	// Гистограммы
	rewardAmount    *prometheus.HistogramVec
	webhookDuration *prometheus.HistogramVec

	// Gauge метрики
	lastReward prometheus.Gauge

	// Мьютекс для thread-safety
	mu sync.RWMutex
}

// New создает метрики и регистрирует их в глобальном реестре
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer, logger)
}

// NewWithRegistry создает метрики в указанном реестре
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		gatherer: gatherer,

		codesGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_codes_generated_total",
				Help: "Количество созданных реферальных кодов",
			},
		),

		attributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_attributions_total",
				Help: "Этапы реферальной привязки",
			},
			[]string{"stage", "result"}, // stage: stage, consume
		),

		rewards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_rewards_total",
				Help: "Результаты обработки событий наград",
			},
			[]string{"trigger", "outcome"}, // trigger: signup, purchase
		),

		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_webhooks_total",
				Help: "Входящие вебхуки платформы",
			},
			[]string{"hook", "status"},
		),

		rewardAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "referral_reward_amount",
				Help:    "Сумма начисленной награды",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
			},
			[]string{"trigger"},
		),

		webhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "referral_webhook_duration_seconds",
				Help:    "Время обработки вебхука в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"hook"},
		),

		lastReward: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "referral_last_reward_timestamp",
				Help: "Timestamp последней начисленной награды",
			},
		),
	}

	// Регистрируем все метрики
	reg.MustRegister(
		m.codesGenerated,
		m.attributions,
		m.rewards,
		m.webhooks,
		m.rewardAmount,
		m.webhookDuration,
		m.lastReward,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "referral_codes_generated_total":
		m.codesGenerated.Inc()
		return
	case "referral_attributions_total":
		counter = m.attributions
	case "referral_rewards_total":
		counter = m.rewards
	case "referral_webhooks_total":
		counter = m.webhooks
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
	m.logger.Debug("метрика увеличена", zap.String("metric", name), zap.Strings("labels", labels))
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "referral_last_reward_timestamp":
		m.lastReward.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}

	m.logger.Debug("метрика установлена", zap.String("metric", name), zap.Float64("value", value))
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "referral_reward_amount":
		m.rewardAmount.WithLabelValues(labels...).Observe(value)
	case "referral_webhook_duration":
		m.webhookDuration.WithLabelValues(labels...).Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
		return
	}

	m.logger.Debug("гистограмма обновлена", zap.String("metric", name), zap.Float64("value", value))
}

// RecordCodeGenerated записывает создание реферального кода
func (m *Metrics) RecordCodeGenerated() {
	m.IncrementCounter("referral_codes_generated_total")
}

// RecordAttribution записывает результат этапа привязки
func (m *Metrics) RecordAttribution(stage, result string) {
	m.IncrementCounter("referral_attributions_total", stage, result)
}

// RecordReward записывает результат обработки события награды
func (m *Metrics) RecordReward(trigger, outcome string) {
	m.IncrementCounter("referral_rewards_total", trigger, outcome)
}

// RecordRewardAmount записывает сумму начисленной награды
func (m *Metrics) RecordRewardAmount(trigger string, amount float64) {
	m.ObserveHistogram("referral_reward_amount", amount, trigger)
	m.SetGauge("referral_last_reward_timestamp", float64(time.Now().Unix()))
}

// RecordWebhook записывает обработку вебхука
func (m *Metrics) RecordWebhook(hook string, status int, duration time.Duration) {
	m.IncrementCounter("referral_webhooks_total", hook, http.StatusText(status))
	m.ObserveHistogram("referral_webhook_duration", duration.Seconds(), hook)
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
