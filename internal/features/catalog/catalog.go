// Package catalog — справочник инвестиционных пакетов.
// Каталог только читается: цена и доходность всегда берутся отсюда,
// значения от клиента лишь сверяются.
package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/config"
)

// Pack — позиция каталога.
type Pack struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	DailyReturn decimal.Decimal `json:"dailyReturn"`
}

// Catalog — неизменяемый после создания список пакетов.
type Catalog struct {
	packs  []Pack
	byName map[string]Pack
}

// New проверяет и индексирует пакеты. Порядок сохраняется.
func New(packs []Pack) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Pack, len(packs))}
	for _, p := range packs {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: пакет без названия", common.ErrConfiguration)
		}
		if !p.Price.IsPositive() || !p.DailyReturn.IsPositive() {
			return nil, fmt.Errorf("%w: пакет %s: цена и доход должны быть > 0", common.ErrConfiguration, p.Name)
		}
		if !common.IsCents(p.Price) || !common.IsCents(p.DailyReturn) {
			return nil, fmt.Errorf("%w: пакет %s: больше двух знаков после запятой", common.ErrConfiguration, p.Name)
		}
		key := strings.ToLower(p.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("%w: пакет %s объявлен дважды", common.ErrConfiguration, p.Name)
		}
		c.byName[key] = p
		c.packs = append(c.packs, p)
	}
	return c, nil
}

// FromConfig строит каталог из таблиц YAML.
func FromConfig(entries []config.PackEntry) (*Catalog, error) {
	packs := make([]Pack, 0, len(entries))
	for _, e := range entries {
		packs = append(packs, Pack{Name: e.Name, Price: e.Price, DailyReturn: e.DailyReturn})
	}
	return New(packs)
}

// Lookup ищет пакет по названию без учёта регистра.
// Пустой каталог — ошибка конфигурации, а не "пакет не найден".
func (c *Catalog) Lookup(name string) (Pack, error) {
	if c == nil || len(c.packs) == 0 {
		return Pack{}, fmt.Errorf("%w: каталог пакетов пуст", common.ErrConfiguration)
	}
	p, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Pack{}, fmt.Errorf("%w: %q", common.ErrUnknownPack, name)
	}
	return p, nil
}

// List возвращает копию каталога в порядке объявления.
func (c *Catalog) List() []Pack {
	if c == nil {
		return nil
	}
	return append([]Pack(nil), c.packs...)
}
