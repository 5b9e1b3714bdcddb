// Package database opens the sqlite account store.
package database

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path"

	"github.com/mhsanaei/xray-daemon/config"
	"github.com/mhsanaei/xray-daemon/database/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func initModels(db *gorm.DB) error {
	models := []any{
		&model.Account{},
	}
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			log.Printf("Error auto migrating model: %v", err)
			return err
		}
	}
	return nil
}

// Open opens (creating if needed) the sqlite database at dbPath and migrates it.
func Open(dbPath string) (*gorm.DB, error) {
	dir := path.Dir(dbPath)
	if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
		return nil, err
	}

	var gormLogger logger.Interface
	if config.IsDebug() {
		gormLogger = logger.Default
	} else {
		gormLogger = logger.Discard
	}

	c := &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
	}

	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), c)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if _, err = sqlDB.Exec("PRAGMA temp_store = MEMORY;"); err != nil {
		return nil, err
	}

	if err := initModels(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := Checkpoint(db); err != nil {
		log.Printf("error executing checkpoint: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func Checkpoint(db *gorm.DB) error {
	return db.Exec("PRAGMA wal_checkpoint;").Error
}
