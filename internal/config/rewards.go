// Package config — rewards.go читает таблицы вознаграждений из YAML:
// каталог пакетов, ставки комиссий, тиры бонусов и сегменты колеса.
// Это параметры развёртывания, в коде значений по умолчанию нет.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PackEntry — строка каталога пакетов.
type PackEntry struct {
	Name        string
	Price       decimal.Decimal
	DailyReturn decimal.Decimal
}

// TierEntry — тир бонуса акционера.
type TierEntry struct {
	ID        string
	Metric    string
	Threshold int
	Amount    decimal.Decimal
	Label     string
}

// WheelEntry — сегмент колеса: верхняя граница включительно.
type WheelEntry struct {
	UpTo   int
	Kind   string
	Amount decimal.Decimal
	Pack   string
	Label  string
}

// Rewards — все таблицы из файла.
type Rewards struct {
	Packs           []PackEntry
	CommissionRates []decimal.Decimal
	BonusTiers      []TierEntry
	Wheel           []WheelEntry
}

// rewardsFile повторяет структуру YAML. Суммы — строки, чтобы не терять точность.
type rewardsFile struct {
	Packs []struct {
		Name        string `yaml:"name"`
		Price       string `yaml:"price"`
		DailyReturn string `yaml:"daily_return"`
	} `yaml:"packs"`
	CommissionRates []string `yaml:"commission_rates"`
	BonusTiers      []struct {
		ID        string `yaml:"id"`
		Metric    string `yaml:"metric"`
		Threshold int    `yaml:"threshold"`
		Amount    string `yaml:"amount"`
		Label     string `yaml:"label"`
	} `yaml:"bonus_tiers"`
	Wheel []struct {
		UpTo   int    `yaml:"up_to"`
		Kind   string `yaml:"kind"`
		Amount string `yaml:"amount"`
		Pack   string `yaml:"pack"`
		Label  string `yaml:"label"`
	} `yaml:"wheel"`
}

// LoadRewards читает файл таблиц.
// Семантику (порядок сегментов, ссылки на пакеты) проверяют пакеты-потребители.
func LoadRewards(path string) (*Rewards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать таблицы вознаграждений: %w", err)
	}
	return ParseRewards(data)
}

// ParseRewards разбирает YAML с таблицами.
func ParseRewards(data []byte) (*Rewards, error) {
	var raw rewardsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML: %w", err)
	}

	out := &Rewards{}
	for i, p := range raw.Packs {
		price, err := parseAmount(p.Price)
		if err != nil {
			return nil, fmt.Errorf("packs[%d].price: %w", i, err)
		}
		daily, err := parseAmount(p.DailyReturn)
		if err != nil {
			return nil, fmt.Errorf("packs[%d].daily_return: %w", i, err)
		}
		out.Packs = append(out.Packs, PackEntry{
			Name:        strings.TrimSpace(p.Name),
			Price:       price,
			DailyReturn: daily,
		})
	}

	for i, r := range raw.CommissionRates {
		rate, err := parseAmount(r)
		if err != nil {
			return nil, fmt.Errorf("commission_rates[%d]: %w", i, err)
		}
		out.CommissionRates = append(out.CommissionRates, rate)
	}

	for i, t := range raw.BonusTiers {
		amount, err := parseAmount(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("bonus_tiers[%d].amount: %w", i, err)
		}
		out.BonusTiers = append(out.BonusTiers, TierEntry{
			ID:        strings.TrimSpace(t.ID),
			Metric:    strings.TrimSpace(t.Metric),
			Threshold: t.Threshold,
			Amount:    amount,
			Label:     t.Label,
		})
	}

	for i, w := range raw.Wheel {
		amount, err := parseAmount(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("wheel[%d].amount: %w", i, err)
		}
		out.Wheel = append(out.Wheel, WheelEntry{
			UpTo:   w.UpTo,
			Kind:   strings.TrimSpace(w.Kind),
			Amount: amount,
			Pack:   strings.TrimSpace(w.Pack),
			Label:  w.Label,
		})
	}

	return out, nil
}

// parseAmount: пустая строка — ноль, отрицательные значения запрещены.
func parseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("некорректное число %q", raw)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("значение %q не может быть отрицательным", raw)
	}
	return v, nil
}
