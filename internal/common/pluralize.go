// Package common — pluralize.go содержит склонение французских слов
// для сообщений бота и форматирование чисел с разделителями.
package common

import "fmt"

// PluralizeDays возвращает "jour" или "jours".
// Во французском 0 и 1 — единственное число.
func PluralizeDays(n int) string {
	if n <= 1 && n >= -1 {
		return "jour"
	}
	return "jours"
}

// PluralizeSpins возвращает "tour" или "tours" (вращения колеса).
func PluralizeSpins(n int) string {
	if n <= 1 && n >= -1 {
		return "tour"
	}
	return "tours"
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	// Рекурсивно добавляем разделители
	rest := n / 1000
	last := n % 1000
	return fmt.Sprintf("%s %03d", FormatNumber(rest), last)
}
