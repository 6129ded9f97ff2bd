// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: форматирование сумм, работа с часовым поясом платформы.
package common

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTimezone — часовой пояс платформы (Бенин, UTC+1).
const DefaultTimezone = "Africa/Porto-Novo"

// CurrencyName — единственная валюта платформы.
const CurrencyName = "FCFA"

// IsCents — сумма укладывается в два знака после запятой (точность столбцов NUMERIC(20,2)).
func IsCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

// FormatAmount форматирует сумму с разделителями тысяч и валютой.
//
// Примеры:
//
//	FormatAmount(decimal.NewFromInt(2000))   → "2 000 FCFA"
//	FormatAmount(decimal.RequireFromString("1500.5")) → "1 500,50 FCFA"
func FormatAmount(amount decimal.Decimal) string {
	return FormatDecimal(amount) + " " + CurrencyName
}

// FormatDecimal форматирует число во французской манере: пробел между
// тысячами, запятая перед дробной частью. Целые суммы — без дробной части.
func FormatDecimal(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}

	whole := amount.Truncate(0)
	out := sign + FormatNumber(whole.IntPart())

	if frac := amount.Sub(whole); !frac.IsZero() {
		// "0.50" → "50"
		digits := strings.TrimPrefix(frac.StringFixed(2), "0.")
		out += "," + digits
	}
	return out
}

// Location возвращает часовой пояс платформы.
// Если не удалось загрузить — используем UTC+1 вручную.
func Location(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("WAT", 1*60*60)
	}
	return loc
}

// FormatDateTime форматирует время в формат "02/01/2006 15:04" для истории.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = Location("")
	}
	return t.In(loc).Format("02/01/2006 15:04")
}
