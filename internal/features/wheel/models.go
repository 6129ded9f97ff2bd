// Package wheel — колесо фортуны: взвешенный розыгрыш приза за спин-кредит.
// models.go описывает таблицу сегментов и её проверку.
package wheel

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/config"
	"bintex.app/engine/internal/features/catalog"
)

// RollMax — верхняя граница броска; бросок равномерен на [0, RollMax].
const RollMax = 999

// PrizeKind — тип приза.
type PrizeKind string

const (
	PrizeCash PrizeKind = "cash" // Деньги на счёт доходов
	PrizePack PrizeKind = "pack" // Бесплатный пакет
	PrizeNone PrizeKind = "none" // Пусто
)

// Segment — сегмент колеса. Сегмент покрывает броски (предыдущий UpTo, UpTo].
type Segment struct {
	UpTo   int             `json:"upTo"`
	Kind   PrizeKind       `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Pack   string          `json:"pack,omitempty"`
	Label  string          `json:"label"`
}

// Table — проверенная таблица сегментов.
type Table struct {
	segments []Segment
	packs    map[string]catalog.Pack
}

// NewTable проверяет, что сегменты разбивают [0, RollMax] без пропусков
// и пересечений, а пакетные призы ссылаются на пакеты каталога.
func NewTable(segments []Segment, cat *catalog.Catalog) (*Table, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: таблица колеса пуста", common.ErrConfiguration)
	}

	t := &Table{packs: make(map[string]catalog.Pack)}
	prev := -1
	for i, seg := range segments {
		if seg.UpTo <= prev {
			return nil, fmt.Errorf("%w: сегмент %d: up_to %d не больше предыдущего %d", common.ErrConfiguration, i, seg.UpTo, prev)
		}
		switch seg.Kind {
		case PrizeCash:
			if !seg.Amount.IsPositive() {
				return nil, fmt.Errorf("%w: сегмент %d: денежный приз без суммы", common.ErrConfiguration, i)
			}
			if !common.IsCents(seg.Amount) {
				return nil, fmt.Errorf("%w: сегмент %d: больше двух знаков после запятой", common.ErrConfiguration, i)
			}
		case PrizePack:
			p, err := cat.Lookup(seg.Pack)
			if err != nil {
				return nil, fmt.Errorf("%w: сегмент %d: %v", common.ErrConfiguration, i, err)
			}
			seg.Pack = p.Name
			t.packs[p.Name] = p
		case PrizeNone:
			seg.Amount = decimal.Zero
		default:
			return nil, fmt.Errorf("%w: сегмент %d: неизвестный тип приза %q", common.ErrConfiguration, i, seg.Kind)
		}
		if seg.Label == "" {
			seg.Label = defaultLabel(seg)
		}
		t.segments = append(t.segments, seg)
		prev = seg.UpTo
	}
	if prev != RollMax {
		return nil, fmt.Errorf("%w: последний сегмент должен заканчиваться на %d, а не %d", common.ErrConfiguration, RollMax, prev)
	}
	return t, nil
}

// TableFromConfig строит таблицу из YAML.
func TableFromConfig(entries []config.WheelEntry, cat *catalog.Catalog) (*Table, error) {
	segments := make([]Segment, 0, len(entries))
	for _, e := range entries {
		segments = append(segments, Segment{
			UpTo:   e.UpTo,
			Kind:   PrizeKind(e.Kind),
			Amount: e.Amount,
			Pack:   e.Pack,
			Label:  e.Label,
		})
	}
	return NewTable(segments, cat)
}

// Resolve возвращает сегмент для броска r ∈ [0, RollMax].
func (t *Table) Resolve(r int) Segment {
	i := sort.Search(len(t.segments), func(i int) bool { return t.segments[i].UpTo >= r })
	if i == len(t.segments) {
		i = len(t.segments) - 1
	}
	return t.segments[i]
}

// Segments — копия таблицы.
func (t *Table) Segments() []Segment {
	if t == nil {
		return nil
	}
	return append([]Segment(nil), t.segments...)
}

// Odds — вероятность сегмента в тысячных.
func (t *Table) Odds(i int) int {
	lo := -1
	if i > 0 {
		lo = t.segments[i-1].UpTo
	}
	return t.segments[i].UpTo - lo
}

// RollFunc возвращает равномерный бросок из [0, RollMax].
type RollFunc func() (int, error)

// CryptoRoll — бросок на crypto/rand.
func CryptoRoll() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(RollMax+1))
	if err != nil {
		return 0, fmt.Errorf("ошибка генератора случайных чисел: %w", err)
	}
	return int(n.Int64()), nil
}

func defaultLabel(seg Segment) string {
	switch seg.Kind {
	case PrizeCash:
		return common.FormatAmount(seg.Amount)
	case PrizePack:
		return "Pack " + seg.Pack
	}
	return "Perdu"
}
