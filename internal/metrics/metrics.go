// Package metrics — счётчики Prometheus движка.
// Все методы безопасны для nil: сервисы в тестах работают без метрик.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — набор счётчиков движка.
type Metrics struct {
	purchases        *prometheus.CounterVec
	gainsCredited    prometheus.Counter
	commissionCredit *prometheus.CounterVec
	bonusAwards      *prometheus.CounterVec
	wheelSpins       *prometheus.CounterVec
	storeConflicts   prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default возвращает метрики, зарегистрированные в глобальном реестре (один раз).
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
		prometheus.MustRegister(defaultMetrics.Collectors()...)
	})
	return defaultMetrics
}

// New создаёт незарегистрированный набор счётчиков.
func New() *Metrics {
	return &Metrics{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "purchases_total",
			Help:      "Успешные покупки пакетов.",
		}, []string{"pack"}),
		gainsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "gains_credited_total",
			Help:      "Сумма начисленного дохода по пакетам (FCFA).",
		}),
		commissionCredit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "commission_credits_total",
			Help:      "Начисления реферальных комиссий по уровням и результату.",
		}, []string{"level", "result"}),
		bonusAwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "bonus_awards_total",
			Help:      "Выплаченные тиры бонусов акционера.",
		}, []string{"tier"}),
		wheelSpins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "wheel_spins_total",
			Help:      "Вращения колеса по типу приза.",
		}, []string{"prize"}),
		storeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "store_conflicts_total",
			Help:      "Повторы мутаций из-за конфликтов версий и сбоев хранилища.",
		}),
	}
}

// Collectors — для регистрации в своём реестре.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.purchases, m.gainsCredited, m.commissionCredit,
		m.bonusAwards, m.wheelSpins, m.storeConflicts,
	}
}

func (m *Metrics) Purchase(pack string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(pack).Inc()
}

func (m *Metrics) GainsCredited(amount float64) {
	if m == nil {
		return
	}
	m.gainsCredited.Add(amount)
}

func (m *Metrics) CommissionCredit(level int, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.commissionCredit.WithLabelValues(strconv.Itoa(level), result).Inc()
}

func (m *Metrics) BonusAward(tier string) {
	if m == nil {
		return
	}
	m.bonusAwards.WithLabelValues(tier).Inc()
}

func (m *Metrics) WheelSpin(prize string) {
	if m == nil {
		return
	}
	m.wheelSpins.WithLabelValues(prize).Inc()
}

// StoreConflict подходит как RetryPolicy.OnRetry.
func (m *Metrics) StoreConflict(error) {
	if m == nil {
		return
	}
	m.storeConflicts.Inc()
}
