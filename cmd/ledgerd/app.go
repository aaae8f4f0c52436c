package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"referral-ledger/internal/auth"
	"referral-ledger/internal/config"
	"referral-ledger/internal/credential"
	"referral-ledger/internal/database"
	"referral-ledger/internal/ledger"
	"referral-ledger/internal/lock"
	"referral-ledger/internal/logging"
	"referral-ledger/internal/member"
	"referral-ledger/internal/service"
	"referral-ledger/internal/settlement"
	"referral-ledger/internal/storage"
)

type store interface {
	member.Store
	ledger.Store
}

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	redis    *redis.Client
	members  *member.Repository
	ledger   *ledger.Ledger
	console  *service.Console
	accounts *service.Accounts

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.LoadConfig()

	log, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	st, shared, err := a.openStore()
	if err != nil {
		a.close()
		return nil, err
	}

	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		a.redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		rl := lock.NewRedisLocker(rdb)
		rl.OnLost = func(key string) {
			log.Error("lock expired before release", zap.String("key", key))
		}
		locker = rl
		shared = true
	}

	a.members = member.NewRepository(st, credential.NewHasher(cfg.PBKDF2Iterations), member.Options{
		BootstrapID:       cfg.BootstrapAdminID,
		BootstrapPassword: cfg.BootstrapAdminPassword,
		Locker:            locker,
		Reload:            shared,
		Logger:            log.Named("members"),
	})
	a.ledger = ledger.New(st, ledger.Options{
		Locker: locker,
		Reload: shared,
		Logger: log.Named("ledger"),
	})
	engine := settlement.NewEngine(a.members, a.ledger, log.Named("settlement"))
	a.console = service.NewConsole(a.members, a.ledger, engine, log.Named("console"))
	a.accounts = service.NewAccounts(a.members, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL), log.Named("accounts"))

	if _, err := a.members.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// openStore picks the persistence backend. Database backends may be shared by several
// processes, so repositories re-read them on every operation.
func (a *app) openStore() (store, bool, error) {
	switch a.cfg.StoreBackend {
	case "csv", "":
		if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
			return nil, false, fmt.Errorf("failed to create data dir: %w", err)
		}
		return storage.NewFileStore(a.cfg.MembersFile, a.cfg.LedgerFile), false, nil
	case "postgres":
		db, err := database.ConnectPostgres(a.cfg, a.log)
		if err != nil {
			return nil, false, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		return database.NewGormStore(db), true, nil
	case "sqlite":
		db, err := database.ConnectSQLite(a.cfg.SQLitePath, a.log)
		if err != nil {
			return nil, false, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		return database.NewGormStore(db), false, nil
	}
	return nil, false, fmt.Errorf("unknown STORE_BACKEND %q", a.cfg.StoreBackend)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
