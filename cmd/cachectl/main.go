// cachectl is the operational CLI for the auth cache: inspect stats, warm
// the cache, fire invalidation events and clear everything.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/efaroni/authcache/cache"
	"github.com/efaroni/authcache/config"
	"github.com/efaroni/authcache/crypto"
	"github.com/efaroni/authcache/invalidation"
	"github.com/efaroni/authcache/logger"
	"github.com/efaroni/authcache/store"
	"github.com/efaroni/authcache/usercache"
)

var (
	configPath string
	jsonLogs   bool
)

// app holds everything a subcommand needs, torn down in reverse order.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	manager *usercache.Manager
	engine  *invalidation.Engine

	client *redis.Client
	db     *store.SQLite
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := logger.ParseLevel(cfg.LogLevel)
	var log logger.Logger
	if jsonLogs {
		log = logger.NewJSONLogger(level)
	} else {
		log = logger.NewConsoleLogger(level)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	db, err := store.NewSQLite(cfg.DatabaseURL)
	if err != nil {
		client.Close()
		return nil, err
	}

	var cipher *crypto.TokenCipher
	if cfg.Cache.TokenSecret != "" {
		cipher, err = crypto.NewTokenCipher(cfg.Cache.TokenSecret)
		if err != nil {
			client.Close()
			db.Close()
			return nil, err
		}
	} else {
		log.Warn("no token secret configured, cached OAuth tokens will not be encrypted")
	}

	tiered := cache.NewTiered(cache.NewRedis(client), cache.NewMemory(ctx), log, cfg.StoreOptions()...)
	manager := usercache.NewManager(tiered, db, cipher, log, cfg.CacheConfig())
	engine := invalidation.NewEngine(manager, log, cfg.EngineConfig())

	return &app{
		cfg:     cfg,
		log:     log,
		manager: manager,
		engine:  engine,
		client:  client,
		db:      db,
	}, nil
}

func (a *app) close() {
	a.engine.Close()
	a.manager.Close()
	a.db.Close()
	a.client.Close()
}

func parseCaches(names string) (invalidation.Set, error) {
	var s invalidation.Set
	if names == "" {
		return s, nil
	}
	for _, name := range strings.Split(names, ",") {
		switch strings.TrimSpace(name) {
		case "session":
			s = s.Union(invalidation.NewSet(invalidation.KindSession))
		case "profile":
			s = s.Union(invalidation.NewSet(invalidation.KindProfile))
		case "oauth":
			s = s.Union(invalidation.NewSet(invalidation.KindToken))
		default:
			return 0, fmt.Errorf("unknown cache kind %q (want session, profile or oauth)", name)
		}
	}
	return s, nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache health and traffic counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			stats := a.manager.Stats(cmd.Context())
			buf, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(buf))
			return nil
		},
	}
}

func newWarmCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Prime the cache from the most recently active rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			n, err := a.manager.WarmUp(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "warmed %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to prime per cache kind")
	return cmd
}

func newInvalidateCmd() *cobra.Command {
	var immediate bool
	var cachesFlag string
	cmd := &cobra.Command{
		Use:   "invalidate <event> <user-id> [user-id...]",
		Short: "Invalidate caches for a domain event",
		Long: `Invalidate caches for a domain event, e.g.:

  cachectl invalidate user.profile.updated u_123
  cachectl invalidate user.deleted u_123 u_456 --immediate
  cachectl invalidate custom.event u_123 --caches session,oauth`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caches, err := parseCaches(cachesFlag)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			event := invalidation.Event(args[0])
			userIDs := args[1:]
			// One-shot process: queued items would die with it, so the
			// CLI always invalidates synchronously.
			opts := &invalidation.Options{Immediate: true, Caches: caches}
			if !immediate {
				a.log.Debug("running queued event %s synchronously", event)
			}
			if err := a.engine.InvalidateForEvent(cmd.Context(), event, userIDs, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d users for %s\n", len(userIDs), event)
			return nil
		},
	}
	cmd.Flags().BoolVar(&immediate, "immediate", false, "kept for parity with service callers; the CLI is always synchronous")
	cmd.Flags().StringVar(&cachesFlag, "caches", "", "comma-separated cache kinds, bypassing the event rules")
	return cmd
}

func newClearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Flush every cache entry in both tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to clear all caches without --force")
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.engine.ClearAllCaches(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all caches cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the flush")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Operate the tiered auth cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "authcache.yaml", "path to the configuration file")
	root.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit JSON logs instead of console logs")
	root.AddCommand(newStatsCmd(), newWarmCmd(), newInvalidateCmd(), newClearCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
