package app

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pdvbar/comandas/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// getDatabase opens the configured database or panics. SQLite files live in
// workdir/data unless Name is an absolute path or ":memory:".
func getDatabase(cfg config.DBConfig, workdir string) *gorm.DB {
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	if cfg.Debug {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Type {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Name, workdir)), gcfg)
		if err == nil {
			// writes are serialized by sqlite anyway; one connection keeps
			// the transaction and the row updates on the same handle
			sqlDB, _ := db.DB()
			sqlDB.SetMaxOpenConns(1)
		}
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name)
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err == nil {
			sqlDB, _ := db.DB()
			sqlDB.SetMaxOpenConns(cfg.MaxConn)
			sqlDB.SetMaxIdleConns(cfg.IdleConn)
			sqlDB.SetConnMaxLifetime(time.Hour)
		}
	default:
		err = fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if err != nil {
		zap.S().Errorf("open database failed: %v", err)
		panic(err)
	}
	return db
}

func sqliteDSN(name, workdir string) string {
	if name == "" {
		name = "comandas.db"
	}
	if name == ":memory:" || path.IsAbs(name) {
		return name
	}
	dir := path.Join(workdir, "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		zap.S().Warnf("create data dir %s: %v", dir, err)
	}
	return path.Join(dir, name)
}
