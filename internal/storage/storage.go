package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Path            string           `mapstructure:"path"`
	InMemory        bool             `mapstructure:"in_memory"`
	EnableWAL       bool             `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration    `mapstructure:"busy_timeout"`
	MaxOpenConns    int              `mapstructure:"max_open_conns"`
	MaxIdleConns    int              `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration    `mapstructure:"conn_max_lifetime"`
	SlowQuery       time.Duration    `mapstructure:"slow_query"`
	Logger          logger.Interface `mapstructure:"-"`
}

var ErrNotFound = errors.New("not found")

// models 是 AutoMigrate 管理的全部表。
var models = []any{
	&Project{},
	&Unit{},
	&User{},
	&Checkpoint{},
	&AuditRecord{},
	&Memory{},
	&SearchCache{},
}

// Storage 封装 gorm 连接；所有仓储方法都挂在它上面。
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	gl := cfg.Logger
	if gl == nil {
		gl = newGormLogger(cfg.SlowQuery)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	tunePool(sqlDB, cfg)

	s := &Storage{db: db, sqlDB: sqlDB}
	if err := s.init(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// init 设置 pragma、迁移表结构并确认连接可用。
func (s *Storage) init(ctx context.Context, cfg Config) error {
	pragmas := []struct{ name, stmt string }{
		{"foreign keys", "PRAGMA foreign_keys=ON;"},
	}
	if cfg.EnableWAL && !cfg.InMemory {
		pragmas = append(pragmas, struct{ name, stmt string }{"wal", "PRAGMA journal_mode=WAL;"})
	}
	for _, p := range pragmas {
		if err := s.db.WithContext(ctx).Exec(p.stmt).Error; err != nil {
			return fmt.Errorf("enable %s: %w", p.name, err)
		}
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.Ping(ctx)
}

func tunePool(sqlDB *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage not initialized")
	}
	return s.sqlDB.PingContext(ctx)
}

func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB 暴露底层连接，供脚本和测试直接查询。
func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// buildDSN 生成 glebarez/sqlite 的连接串；文件库会先创建所在目录。
func buildDSN(cfg Config) (string, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragma := fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds())

	if cfg.InMemory {
		return "file:estateagent?mode=memory&cache=shared&" + pragma, nil
	}
	if cfg.Path == "" {
		return "", errors.New("storage.path is required unless storage.in_memory is set")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?%s", cfg.Path, pragma), nil
}
