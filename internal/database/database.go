// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package database 管理 GORM 数据库连接的生命周期：驱动选择、
// 连接池参数与后台健康检查。存储层（store/、graph/）只依赖
// *gorm.DB，本包负责把配置变成一个受管理的连接。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config 数据库连接配置。
type Config struct {
	Driver              string        `json:"driver" yaml:"driver"` // postgres | sqlite
	DSN                 string        `json:"dsn" yaml:"dsn"`
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns        int           `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime     time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
}

// Conn 受管理的数据库连接。
type Conn struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger
	stop   chan struct{}
	once   sync.Once
}

// Open 打开数据库连接并应用连接池配置。
// HealthCheckInterval > 0 时启动后台探活。
func Open(cfg Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	c := &Conn{
		db:     db,
		sqlDB:  sqlDB,
		logger: logger.With(zap.String("component", "database")),
		stop:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go c.healthCheckLoop(cfg.HealthCheckInterval)
	}

	c.logger.Info("database connected",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return c, nil
}

// DB 返回 GORM 实例。
func (c *Conn) DB() *gorm.DB {
	return c.db
}

// Ping 探测连接可用性。
func (c *Conn) Ping(ctx context.Context) error {
	return c.sqlDB.PingContext(ctx)
}

// Stats 返回底层连接池统计。
func (c *Conn) Stats() sql.DBStats {
	return c.sqlDB.Stats()
}

// Close 停止健康检查并关闭连接池。幂等。
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.logger.Info("closing database connection")
		err = c.sqlDB.Close()
	})
	return err
}

func (c *Conn) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Ping(ctx); err != nil {
				c.logger.Error("database health check failed", zap.Error(err))
			} else {
				stats := c.Stats()
				c.logger.Debug("database health check passed",
					zap.Int("open_connections", stats.OpenConnections),
					zap.Int("idle", stats.Idle),
				)
			}
			cancel()
		}
	}
}
