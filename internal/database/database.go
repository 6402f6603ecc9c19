// Package database 提供 MySQL 连接与基于 go-migrate 的迁移功能。
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/config"
)

// DB 封装数据库连接
type DB struct {
	*sql.DB
	logger *zap.Logger
	dsn    *gomysql.Config
}

// DSN 由配置构建 MySQL 连接参数
func DSN(cfg config.DatabaseConfig) *gomysql.Config {
	dsn := gomysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsn.DBName = cfg.DBName
	dsn.ParseTime = true
	dsn.Loc = time.Local
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn
}

// New 创建数据库连接并配置连接池
func New(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := DSN(cfg.Database)

	sqlDB, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("addr", dsn.Addr),
		zap.String("database", dsn.DBName),
	)

	return &DB{DB: sqlDB, logger: logger, dsn: dsn}, nil
}

// migrator 基于独立连接创建 migrate 实例，调用方负责执行返回的 closer
func (db *DB) migrator(migrationsDir string) (*migrate.Migrate, func(), error) {
	// 迁移文件中包含多条语句
	dsn := db.dsn.Clone()
	dsn.MultiStatements = true

	migrateSQLDB, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database for migration: %w", err)
	}

	driver, err := migratemysql.WithInstance(migrateSQLDB, &migratemysql.Config{})
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("create mysql driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsDir), "mysql", driver)
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	closer := func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			db.logger.Warn("close migrate instance", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}
	return m, closer, nil
}

// currentVersion 读取当前版本，脏状态直接返回错误
func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is in dirty state at version %d, please check and fix manually", version)
	}
	return version, nil
}

// RunMigrations 执行所有待执行的向上迁移
func (db *DB) RunMigrations(migrationsDir string) error {
	m, closeFn, err := db.migrator(migrationsDir)
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := currentVersion(m)
	if err != nil {
		return err
	}
	db.logger.Info("current migration version", zap.Uint("version", from))

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			db.logger.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	to, _, _ := m.Version()
	db.logger.Info("migrations completed successfully",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to),
	)
	return nil
}

// MigrateDown 回滚指定步数，生产环境谨慎使用
func (db *DB) MigrateDown(migrationsDir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, closeFn, err := db.migrator(migrationsDir)
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := currentVersion(m)
	if err != nil {
		return err
	}

	db.logger.Info("starting migration rollback",
		zap.Uint("current_version", from),
		zap.Int("steps", steps),
	)

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}

	to, _, _ := m.Version()
	db.logger.Info("migration rollback completed",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to),
	)
	return nil
}

// MigrateToVersion 迁移到指定版本
func (db *DB) MigrateToVersion(migrationsDir string, version uint) error {
	m, closeFn, err := db.migrator(migrationsDir)
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := currentVersion(m)
	if err != nil {
		return err
	}

	if err := m.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			db.logger.Info("already at target version", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}

	db.logger.Info("migration to version completed",
		zap.Uint("from_version", from),
		zap.Uint("to_version", version),
	)
	return nil
}

// ForceMigrationVersion 强制设置迁移版本，仅用于修复脏状态
func (db *DB) ForceMigrationVersion(migrationsDir string, version uint) error {
	m, closeFn, err := db.migrator(migrationsDir)
	if err != nil {
		return err
	}
	defer closeFn()

	db.logger.Warn("forcing migration version", zap.Uint("version", version))
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("force migration version: %w", err)
	}
	return nil
}

// MigrationStatus 返回当前迁移版本与脏状态
func (db *DB) MigrationStatus(migrationsDir string) (uint, bool, error) {
	m, closeFn, err := db.migrator(migrationsDir)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
