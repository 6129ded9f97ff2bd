package bonus

import (
	"context"
	"fmt"

	"bintex.app/engine/internal/features/ledger"
)

// CountNetwork обходит поддерево аккаунта в ширину на NetworkDepth уровней.
// Счётчики читаются без блокировок: бонус только сравнивает их с порогами,
// а повторная проверка claimed-тиров делается внутри мутации.
func CountNetwork(ctx context.Context, store ledger.Store, rootID string) (NetworkStats, error) {
	var stats NetworkStats

	frontier := []string{rootID}
	visited := map[string]struct{}{rootID: {}}
	for depth := 0; depth < NetworkDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			children, err := store.ListByUpline(ctx, id)
			if err != nil {
				return NetworkStats{}, fmt.Errorf("ошибка обхода сети %s: %w", id, err)
			}
			for _, child := range children {
				if _, seen := visited[child.ID]; seen {
					continue
				}
				visited[child.ID] = struct{}{}
				stats.Members[depth]++
				if child.HasActivePack() {
					stats.Active[depth]++
				}
				next = append(next, child.ID)
			}
		}
		frontier = next
	}

	stats.L1Active = stats.Active[0]
	for _, n := range stats.Active {
		stats.TotalActive += n
	}
	return stats, nil
}
