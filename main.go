package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/wfunc/bncserver/config"
	"github.com/wfunc/bncserver/logger"
	"github.com/wfunc/bncserver/persistence"
	"github.com/wfunc/bncserver/server"
)

// openDatabase opens the room store selected by cfg.Driver.
func openDatabase(cfg config.DatabaseConfig) (persistence.Database, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return persistence.NewMemory(), nil
	case config.DriverGormPostgres:
		pg := cfg.Postgres
		return persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case config.DriverGormSQLite:
		return persistence.NewGormSQLite(cfg.SQLite.Path)
	case config.DriverPostgres:
		pg := cfg.Postgres
		return persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case config.DriverRedis:
		return persistence.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func main() {
	config.BindFlags(pflag.CommandLine)
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadFlags(pflag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Log
	defer log.Sync()

	// Initialize Database
	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Infof("Database connection successful (%s).", cfg.Database.Driver)

	// Initialize Game Server
	gameServer, err := server.NewGameServer(cfg, db, log)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			log.Errorf("Server stopped: %v", err)
		}
	case sig := <-quit:
		log.Infof("Received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := gameServer.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown: %v", err)
	}
	log.Info("Server stopped.")
}
