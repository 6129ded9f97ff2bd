// Package sqlite открывает встраиваемую базу SQLite через GORM.
// Используется для одиночного развёртывания (STORE_DRIVER=sqlite) и в тестах.
package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open открывает базу по пути. ":memory:" — база в памяти.
//
// SQLite допускает одного писателя, поэтому пул ограничен одним соединением:
// это же сохраняет in-memory базу между запросами.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	log.WithField("path", path).Info("SQLite открыта")
	return db, nil
}
