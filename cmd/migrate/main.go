// Package main 库存与履约服务的数据库迁移工具
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/config"
	"github.com/MorseWayne/shop_fulfillment/internal/database"
	"github.com/MorseWayne/shop_fulfillment/internal/logger"
)

const usage = `Usage: %s -action=[up|down|version|force|status] [options]

Options:
  -action string   up, down, version, force, status (default "up")
  -dir string      migrations directory (default from MIGRATIONS_DIR)
  -steps int       number of steps for down (default 1)
  -target uint     target version for version or force (default 0)

Examples:
  ./migrate -action=up
  ./migrate -action=down -steps=1
  ./migrate -action=version -target=3
  ./migrate -action=force -target=0
  ./migrate -action=status
`

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version, force, status")
		dir    = flag.String("dir", "", "Migrations directory, overrides MIGRATIONS_DIR")
		steps  = flag.Int("steps", 1, "Number of steps for down migration")
		target = flag.Uint("target", 0, "Target version for version or force migration")
	)
	flag.Usage = func() { fmt.Fprintf(os.Stderr, usage, os.Args[0]) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "migrate", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.New(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database", "error", err)
		}
	}()

	migrationsDir := cfg.Migrations.Dir
	if *dir != "" {
		migrationsDir = *dir
	}

	if err := run(db, lg, *action, migrationsDir, *steps, *target); err != nil {
		if errors.Is(err, errUnknownAction) {
			flag.Usage()
			os.Exit(2)
		}
		lg.Sugar().Fatalw("migration failed", "action", *action, "error", err)
	}
}

var errUnknownAction = errors.New("unknown action")

func run(db *database.DB, lg *zap.Logger, action, dir string, steps int, target uint) error {
	switch action {
	case "up":
		lg.Info("running up migrations")
		if err := db.RunMigrations(dir); err != nil {
			return err
		}
	case "down":
		lg.Sugar().Infow("running down migrations", "steps", steps)
		if err := db.MigrateDown(dir, steps); err != nil {
			return err
		}
	case "version":
		if target == 0 {
			return fmt.Errorf("target version must be specified")
		}
		lg.Sugar().Infow("migrating to version", "target", target)
		if err := db.MigrateToVersion(dir, target); err != nil {
			return err
		}
	case "force":
		// 版本 0 表示回到无迁移状态
		lg.Sugar().Warnw("forcing migration version, dirty state will be cleared", "target", target)
		if err := db.ForceMigrationVersion(dir, target); err != nil {
			return err
		}
	case "status":
		version, dirty, err := db.MigrationStatus(dir)
		if err != nil {
			return err
		}
		lg.Sugar().Infow("migration status", "version", version, "dirty", dirty)
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return errUnknownAction
	}
	lg.Sugar().Infow("migration completed", "action", action)
	return nil
}
