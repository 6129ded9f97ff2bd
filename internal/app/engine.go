package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/config"
	"bintex.app/engine/internal/db/postgres"
	"bintex.app/engine/internal/db/sqlite"
	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/bonus"
	"bintex.app/engine/internal/features/catalog"
	"bintex.app/engine/internal/features/commission"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/features/purchase"
	"bintex.app/engine/internal/features/rewards"
	"bintex.app/engine/internal/features/wheel"
	"bintex.app/engine/internal/metrics"
)

// Engine — все сервисы движка поверх одного хранилища.
// Bonuses и Wheel равны nil, если функция выключена флагом.
type Engine struct {
	Store     ledger.Store
	Accounts  *accounts.Service
	Catalog   *catalog.Catalog
	Purchases *purchase.Service
	Rewards   *rewards.Service
	Bonuses   *bonus.Service
	Wheel     *wheel.Service
}

// tables — таблицы вознаграждений после проверки.
// Невалидная таблица остаётся пустой, зависящие от неё операции вернут ErrConfiguration.
type tables struct {
	catalog *catalog.Catalog
	rates   []decimal.Decimal
	tiers   []bonus.Tier
	wheel   *wheel.Table
}

// openStore открывает хранилище по STORE_DRIVER. closeFn освобождает соединения.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		return ledger.NewPostgresStore(pool), pool.Close, nil

	case config.StoreDriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := ledger.NewGormStore(db)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, closeFn, nil
	}
	return nil, nil, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.StoreDriver)
}

// loadTables читает YAML и проверяет каждую таблицу отдельно.
func loadTables(path string) tables {
	var t tables

	raw, err := config.LoadRewards(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("Таблицы вознаграждений не загружены")
		t.catalog, _ = catalog.New(nil)
		return t
	}

	if t.catalog, err = catalog.FromConfig(raw.Packs); err != nil {
		log.WithError(err).Warn("Каталог пакетов невалиден")
		t.catalog, _ = catalog.New(nil)
	}

	t.rates = raw.CommissionRates
	if len(t.rates) == 0 {
		log.Warn("Ставки комиссий не заданы")
	}

	if t.tiers, err = bonus.TiersFromConfig(raw.BonusTiers); err != nil {
		log.WithError(err).Warn("Тиры бонусов невалидны")
		t.tiers = nil
	}

	if t.wheel, err = wheel.TableFromConfig(raw.Wheel, t.catalog); err != nil {
		log.WithError(err).Warn("Таблица колеса невалидна")
		t.wheel = nil
	}

	log.WithFields(log.Fields{
		"packs":       len(t.catalog.List()),
		"levels":      len(t.rates),
		"tiers":       len(t.tiers),
		"wheel_ready": t.wheel != nil,
	}).Info("Таблицы вознаграждений загружены")
	return t
}

// NewEngine собирает сервисы. Порядок важен: покупки зависят от комиссий,
// начисления — от бонусов.
func NewEngine(cfg *config.Config, store ledger.Store, m *metrics.Metrics) *Engine {
	t := loadTables(cfg.RewardsConfigPath)

	retry := ledger.DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		retry.MaxDelay = cfg.RetryMaxDelay
	}
	retry.OnRetry = m.StoreConflict

	e := &Engine{
		Store:    store,
		Accounts: accounts.NewService(store, retry, cfg.ReferralCodePrefix, cfg.WithdrawMinAmount),
		Catalog:  t.catalog,
	}

	commissions := commission.NewService(store, t.rates, retry, m)
	e.Purchases = purchase.NewService(store, t.catalog, commissions, retry, m, cfg.WheelSpinsPerPurchase)

	// rewards принимает интерфейс: nil-указатель туда передавать нельзя
	var evaluator rewards.BonusEvaluator
	if cfg.FeatureBonusEnabled {
		e.Bonuses = bonus.NewService(store, t.tiers, retry, m)
		evaluator = e.Bonuses
	}
	e.Rewards = rewards.NewService(store, evaluator, retry, m)

	if cfg.FeatureWheelEnabled {
		e.Wheel = wheel.NewService(store, t.wheel, retry, m)
	}

	return e
}
