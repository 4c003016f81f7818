package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prepmate/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options 控制连接重试与连接池。
type Options struct {
	Attempts     int
	MaxOpenConns int
	MaxIdleConns int
}

var DefaultOptions = Options{Attempts: 10, MaxOpenConns: 20, MaxIdleConns: 5}

// Dialector 按 DSN 选择驱动："sqlite:" 或 "file:" 前缀走 SQLite，其余按 Postgres 处理。
func Dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//"))
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn)
	default:
		return postgres.Open(dsn)
	}
}

// Connect 建立数据库连接，Postgres 容器未就绪时按退避重试，直到 ctx 结束。
func Connect(ctx context.Context, dsn string, opts Options) (*gorm.DB, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	var err error
	for i := 0; i < opts.Attempts; i++ {
		var gdb *gorm.DB
		if gdb, err = open(ctx, dsn, opts); err == nil {
			return gdb, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("db not ready")
		if i == opts.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(500+i*200) * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", opts.Attempts, err)
}

func open(ctx context.Context, dsn string, opts Options) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// Migrate 自动迁移全部表结构；被依赖的表在前。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Interviewee{},
		&models.IntervieweeInterest{},
		&models.Interviewer{},
		&models.InterviewerExpertise{},
		&models.Meeting{},
		&models.MeetingParticipant{},
		&models.Chat{},
		&models.ChatMessage{},
	)
}
