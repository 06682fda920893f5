package db

import (
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/jobs"
	"github.com/suPer8Hu/chat-sync/internal/ratelimit"
	"github.com/suPer8Hu/chat-sync/internal/smartreply"
	"github.com/suPer8Hu/chat-sync/internal/translation"
	"github.com/suPer8Hu/chat-sync/internal/typing"
	"github.com/suPer8Hu/chat-sync/internal/users"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "", "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite":
		return gormsqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}
}

// Connect opens the database and sizes the pool.
func Connect(driver, dsn string) (*gorm.DB, error) {
	d, err := dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

// Models lists every table the service owns.
func Models() []any {
	out := []any{&users.User{}}
	out = append(out, chat.Models()...)
	return append(out,
		&ratelimit.Counter{},
		&translation.Translation{},
		&smartreply.SmartReply{},
		&typing.Indicator{},
		&jobs.Job{},
	)
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(Models()...)
}
