package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"taskmanager/internal/reporting"
	"taskmanager/internal/server"
	"taskmanager/internal/session"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addrFlag != "" {
			cfg.Addr = addrFlag
		}
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "HTTP listen address (overrides TASKMANAGER_ADDR)")
}

func serve(ctx context.Context) error {
	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	appLog.Info("task manager starting", slog.String("version", version), slog.String("driver", cfg.DatabaseDriver))
	if cfg.Debug {
		appLog.Warn("debug mode enabled; do not run like this in production")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		if cfg.SessionBackend == "redis" {
			return err
		}
		appLog.Warn("redis unavailable; login rate limiting disabled", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sessStore, err := sessionStore(store, redisClient)
	if err != nil {
		return err
	}
	sessions := session.NewManager(sessStore, session.Options{
		Secret: cfg.SecretKey,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
		Logger: appLog,
	})

	reporter := reporting.New(cfg.RollbarToken, cfg.RollbarEnvironment, version, appLog)
	defer reporter.Close()

	srv, err := server.New(store, sessions, server.Options{
		Logger:          appLog,
		Reporter:        reporter,
		Version:         version,
		CSRF:            cfg.CSRFEnabled,
		CSRFKey:         csrfKey(cfg.SecretKey),
		SecureCookies:   cfg.CookieSecure,
		Redis:           redisClient,
		LoginRateLimit:  cfg.LoginRateLimit,
		LoginRateWindow: cfg.LoginRateWindow,
	})
	if err != nil {
		return err
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go sessions.RunJanitor(janitorCtx, time.Hour)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLog.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	appLog.Info("server stopped")
	return nil
}

// csrfKey derives the 32-byte CSRF cookie key from SECRET_KEY so the two
// never share raw key material.
func csrfKey(secret string) []byte {
	sum := sha256.Sum256([]byte("taskmanager.csrf:" + secret))
	return sum[:]
}
