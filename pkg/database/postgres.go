package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"attention-monitor/pkg/config"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// NewPostgresDB 创建PostgreSQL连接（阈值档案只读查询）
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := setup(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// setup 设置连接池并探测连接
func setup(ctx context.Context, db *sql.DB, cfg *config.DatabaseConfig) error {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
