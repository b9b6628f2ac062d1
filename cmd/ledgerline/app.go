package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hray3182/ledgerline/internal/balance"
	"github.com/hray3182/ledgerline/internal/config"
	"github.com/hray3182/ledgerline/internal/database"
	"github.com/hray3182/ledgerline/internal/ledger"
	"github.com/hray3182/ledgerline/internal/lock"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/notify"
	"github.com/hray3182/ledgerline/internal/recurring"
	"github.com/hray3182/ledgerline/internal/repository"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/hray3182/ledgerline/internal/store/memory"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app holds everything one command invocation needs.
type app struct {
	cfg       *config.Config
	db        *database.DB
	store     store.Store
	balances  *balance.Engine
	ledger    *ledger.Service
	scheduler *recurring.Scheduler
	notifier  recurring.Notifier
	closers   []func()
}

// setup loads configuration, attaches the logger to the command context and
// connects the store. The caller must call close.
func setup(cmd *cobra.Command) (context.Context, *app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.Configure(cfg.LogLevel, cfg.LogFormat)
	ctx := logger.WithContext(cmd.Context(), log)

	a := &app{cfg: cfg}
	if useMemory {
		a.store = memory.New()
		log.Warn().Msg("using in-memory store, nothing will be persisted")
	} else {
		if cfg.DatabaseURI == "" {
			return nil, nil, fmt.Errorf("DATABASE_URI is required")
		}
		db, err := database.New(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.store = repository.NewStore(db)
		log.Info().Msg("connected to database")
	}

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		locker = lock.NewRedisLocker(client, recurring.LockExpiry(cfg.Scheduler.RuleTimeout))
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis rule locks")
	}

	if cfg.NotificationsEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			a.notifier = tg
		}
	}

	a.balances = balance.New(a.store, balance.Options{HealthDeviationPercent: cfg.HealthDeviationPercent})
	a.ledger = ledger.New(a.store, a.balances, ledger.Options{})
	a.scheduler = recurring.New(a.store, a.ledger, locker, recurring.Options{
		BatchSize:   cfg.Scheduler.BatchSize,
		RuleTimeout: cfg.Scheduler.RuleTimeout,
	})
	return ctx, a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// scope builds the acting scope from the global flags.
func scope() (store.Scope, error) {
	role := models.RoleUser
	if asAdmin {
		role = models.RoleAdmin
	}
	return store.NewScope(models.Actor{UserID: ownerID, Role: role}, globalView)
}

// withApp runs fn with a connected app and the acting scope.
func withApp(fn func(ctx context.Context, a *app, sc store.Scope) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		sc, err := scope()
		if err != nil {
			return err
		}
		ctx, a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, sc)
	}
}

func printResult(w io.Writer, v any) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", outputFmt)
	}
}

func show(v any) error {
	return printResult(os.Stdout, v)
}
