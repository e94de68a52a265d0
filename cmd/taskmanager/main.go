package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"taskmanager/internal/config"
	"taskmanager/internal/logger"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg    *config.Config
	appLog *slog.Logger

	dbDriverFlag string
	dbURLFlag    string
)

var rootCmd = &cobra.Command{
	Use:           "taskmanager",
	Short:         "Task manager web application",
	Long:          `Task manager serves a small multi-user task tracker with statuses, labels and task filters.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if dbDriverFlag != "" {
			loaded.DatabaseDriver = dbDriverFlag
		}
		if dbURLFlag != "" {
			loaded.DatabaseURL = dbURLFlag
		}
		cfg = loaded
		appLog = logger.New(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDriverFlag, "db-driver", "", "database driver: sqlite3 or postgres (overrides DATABASE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&dbURLFlag, "db", "", "database file or DSN (overrides DATABASE_URL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createUserCmd)
	rootCmd.AddCommand(clearSessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*storage.Store, error) {
	store, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL, appLog)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	return store, nil
}

// openRedis connects when REDIS_ADDR is set. A nil client means Redis is
// not configured.
func openRedis(ctx context.Context) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// sessionRedis connects to Redis only when it backs the sessions.
func sessionRedis(ctx context.Context) (*redis.Client, error) {
	if cfg.SessionBackend != "redis" {
		return nil, nil
	}
	return openRedis(ctx)
}

// sessionStore picks the backend named by SESSION_BACKEND.
func sessionStore(store *storage.Store, client *redis.Client) (session.Store, error) {
	switch cfg.SessionBackend {
	case "", "db":
		return session.NewSQLStore(store), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("session backend redis requires REDIS_ADDR")
		}
		return session.NewRedisStore(client), nil
	case "memory":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}
