// Package bonus — разовые бонусы акционера за размер активной сети.
// models.go описывает тиры и статистику сети.
package bonus

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/config"
)

// Metric — по какому счётчику сети проверяется порог.
type Metric string

const (
	MetricL1Active    Metric = "l1_active"    // Прямые рефералы с активным пакетом
	MetricTotalActive Metric = "total_active" // Активные по поддереву из NetworkDepth уровней
)

// NetworkDepth — глубина поддерева для total_active.
const NetworkDepth = 3

// Tier — одноразовый бонус.
type Tier struct {
	ID        string          `json:"id"`
	Metric    Metric          `json:"metric"`
	Threshold int             `json:"threshold"`
	Amount    decimal.Decimal `json:"amount"`
	Label     string          `json:"label"`
}

// NetworkStats — размер сети аккаунта.
type NetworkStats struct {
	// Members[i] — участников на уровне i+1, Active[i] — из них с активным пакетом.
	Members     [NetworkDepth]int `json:"members"`
	Active      [NetworkDepth]int `json:"active"`
	L1Active    int               `json:"l1Active"`
	TotalActive int               `json:"totalActive"`
}

// Value возвращает значение метрики.
func (s NetworkStats) Value(m Metric) int {
	switch m {
	case MetricL1Active:
		return s.L1Active
	case MetricTotalActive:
		return s.TotalActive
	}
	return 0
}

// TiersFromConfig проверяет таблицу тиров из YAML.
func TiersFromConfig(entries []config.TierEntry) ([]Tier, error) {
	seen := make(map[string]struct{}, len(entries))
	tiers := make([]Tier, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: тир без id", common.ErrConfiguration)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: тир %s объявлен дважды", common.ErrConfiguration, e.ID)
		}
		m := Metric(e.Metric)
		if m != MetricL1Active && m != MetricTotalActive {
			return nil, fmt.Errorf("%w: тир %s: неизвестная метрика %q", common.ErrConfiguration, e.ID, e.Metric)
		}
		if e.Threshold <= 0 || !e.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: тир %s: порог и сумма должны быть > 0", common.ErrConfiguration, e.ID)
		}
		if !common.IsCents(e.Amount) {
			return nil, fmt.Errorf("%w: тир %s: больше двух знаков после запятой", common.ErrConfiguration, e.ID)
		}
		seen[e.ID] = struct{}{}
		tiers = append(tiers, Tier{
			ID:        e.ID,
			Metric:    m,
			Threshold: e.Threshold,
			Amount:    e.Amount,
			Label:     e.Label,
		})
	}
	return tiers, nil
}
