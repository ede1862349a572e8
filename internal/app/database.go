package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bjo163/sokomarket/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// getDatabase opens postgres (default) or a sqlite file under workdir/data.
func getDatabase(cfg config.DBConfig, workdir string) *gorm.DB {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if cfg.Debug {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		name := cfg.Name
		if name == "" {
			name = "sokomarket"
		}
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", filepath.Join(workdir, "data", name+".db"))
		dialector = sqlite.Open(dsn)
	default:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Passwd, cfg.Name, cfg.Port)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		zap.S().Fatalf("open database %s: %v", cfg.Type, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		zap.S().Fatalf("database handle: %v", err)
	}
	if cfg.Type == "sqlite" {
		// single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
		sqlDB.SetMaxIdleConns(cfg.IdleConn)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db
}
