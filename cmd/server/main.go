package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pathlight-hq/pathlight/internal/api"
	"github.com/pathlight-hq/pathlight/internal/app"
	"github.com/pathlight-hq/pathlight/internal/app/maintenance"
	iauth "github.com/pathlight-hq/pathlight/internal/auth"
	"github.com/pathlight-hq/pathlight/internal/authz"
	"github.com/pathlight-hq/pathlight/internal/database"
	"github.com/pathlight-hq/pathlight/internal/services"
	"github.com/pathlight-hq/pathlight/internal/store"
	"github.com/pathlight-hq/pathlight/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pathlight-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured (PATHLIGHT_AUTH_JWT_SECRET)")
	}

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.OpenAndMigrate(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialise database: %w", err)
	}
	defer func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}()

	relStore, err := store.New(db)
	if err != nil {
		return err
	}

	auditSvc, err := services.NewAuditService(db,
		services.WithAuditQueueSize(cfg.Audit.QueueSize),
		services.WithAuditRetries(cfg.Audit.MaxRetries, cfg.Audit.RetryDelay),
	)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}
	defer auditSvc.Close()

	engine, err := authz.New(relStore, authz.WithRecorder(auditSvc))
	if err != nil {
		return fmt.Errorf("initialise evaluation engine: %w", err)
	}

	relationshipSvc, err := services.NewRelationshipService(relStore, engine, auditSvc)
	if err != nil {
		return err
	}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	var sweeper *maintenance.Sweeper
	if cfg.Maintenance.Enabled {
		sweeper = maintenance.NewSweeper(relStore, auditSvc,
			maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
			maintenance.WithExpirySchedule(cfg.Maintenance.ExpirySchedule),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start maintenance sweeper: %w", err)
		}
		defer func() {
			<-sweeper.Stop().Done()
		}()
	}

	router, err := api.NewRouter(api.Deps{
		DB:            db,
		JWT:           jwtSvc,
		Engine:        engine,
		Relationships: relationshipSvc,
		Audit:         auditSvc,
		Config:        cfg,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func databaseConfig(cfg *app.Config) database.Config {
	out := database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}

	switch cfg.Database.Driver {
	case "postgres":
		out.Host = cfg.Database.Postgres.Host
		out.Port = cfg.Database.Postgres.Port
		out.User = cfg.Database.Postgres.Username
		out.Password = cfg.Database.Postgres.Password
		out.Name = cfg.Database.Postgres.Database
	case "mysql":
		out.Host = cfg.Database.MySQL.Host
		out.Port = cfg.Database.MySQL.Port
		out.User = cfg.Database.MySQL.Username
		out.Password = cfg.Database.MySQL.Password
		out.Name = cfg.Database.MySQL.Database
	}

	return out
}
