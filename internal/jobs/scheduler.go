// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: периодическое начисление дохода
// по всем аккаунтам и ежедневную проверку бонусов.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/features/rewards"
	"bintex.app/engine/internal/middleware"
)

// Accruer — движок начислений.
type Accruer interface {
	AccrueRewards(ctx context.Context, accountID string) (*rewards.Result, error)
}

// BonusEvaluator — движок бонусов.
type BonusEvaluator interface {
	EvaluateBonuses(ctx context.Context, accountID string) ([]string, error)
}

// SweepStats — итог прохода по аккаунтам.
type SweepStats struct {
	Accounts int
	Applied  int
	Failed   int
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron        *cron.Cron
	store       ledger.Store
	accruer     Accruer
	bonuses     BonusEvaluator
	accrualSpec string
	bonusSpec   string
	loc         *time.Location
}

// NewScheduler создаёт планировщик в часовом поясе платформы.
// bonuses == nil — бонусная задача не регистрируется.
func NewScheduler(store ledger.Store, accruer Accruer, bonuses BonusEvaluator, loc *time.Location, accrualSpec, bonusSpec string) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.StandardLogger()))),
	)

	return &Scheduler{
		cron:        c,
		store:       store,
		accruer:     accruer,
		bonuses:     bonuses,
		accrualSpec: accrualSpec,
		bonusSpec:   bonusSpec,
		loc:         loc,
	}
}

// Start регистрирует задачи и запускает cron. Ошибка — только при неверном расписании.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.accrualSpec, func() {
		log.Info("[CRON] Начисление дохода по всем аккаунтам")
		if _, err := s.SweepAccruals(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка начисления")
		}
	}); err != nil {
		return fmt.Errorf("неверное расписание ACCRUAL_SWEEP_CRON %q: %w", s.accrualSpec, err)
	}

	if s.bonuses != nil {
		if _, err := s.cron.AddFunc(s.bonusSpec, func() {
			log.Info("[CRON] Проверка бонусов по всем аккаунтам")
			if _, err := s.SweepBonuses(ctx); err != nil {
				log.WithError(err).Error("[CRON] Ошибка проверки бонусов")
			}
		}); err != nil {
			return fmt.Errorf("неверное расписание BONUS_SWEEP_CRON %q: %w", s.bonusSpec, err)
		}
	}

	s.cron.Start()
	log.WithField("timezone", s.loc.String()).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт текущие задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// SweepAccruals начисляет доход всем аккаунтам. Ошибка одного аккаунта
// логируется и не останавливает проход.
func (s *Scheduler) SweepAccruals(ctx context.Context) (SweepStats, error) {
	return s.sweep(ctx, "accrual", func(id string) (bool, error) {
		res, err := s.accruer.AccrueRewards(ctx, id)
		if err != nil {
			return false, err
		}
		return res.Applied, nil
	})
}

// SweepBonuses проверяет бонусные тиры у всех аккаунтов.
func (s *Scheduler) SweepBonuses(ctx context.Context) (SweepStats, error) {
	if s.bonuses == nil {
		return SweepStats{}, nil
	}
	return s.sweep(ctx, "bonus", func(id string) (bool, error) {
		tiers, err := s.bonuses.EvaluateBonuses(ctx, id)
		return len(tiers) > 0, err
	})
}

func (s *Scheduler) sweep(ctx context.Context, job string, fn func(id string) (bool, error)) (SweepStats, error) {
	defer middleware.RecoverFromPanic()

	var stats SweepStats
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("список аккаунтов: %w", err)
	}

	start := time.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Accounts++
		applied, err := fn(id)
		if err != nil {
			stats.Failed++
			log.WithError(err).WithFields(log.Fields{"job": job, "account_id": id}).Warn("[CRON] Ошибка по аккаунту")
			continue
		}
		if applied {
			stats.Applied++
		}
	}

	log.WithFields(log.Fields{
		"job":      job,
		"accounts": stats.Accounts,
		"applied":  stats.Applied,
		"failed":   stats.Failed,
		"duration": time.Since(start).String(),
	}).Info("[CRON] Проход завершён")
	return stats, nil
}
