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

	"golang.org/x/sync/errgroup"

	"github.com/modemfleet/internal/api"
	"github.com/modemfleet/internal/auth"
	"github.com/modemfleet/internal/config"
	"github.com/modemfleet/internal/database"
	"github.com/modemfleet/internal/hub"
	"github.com/modemfleet/internal/logging"
	"github.com/modemfleet/internal/storage"
	"github.com/modemfleet/internal/version"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
		writeConfig = flag.String("write-config", "", "write an example config to the given directory and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("modemfleet-server", version.Full())
		return
	}
	if *writeConfig != "" {
		if err := config.CreateExampleConfig(*writeConfig); err != nil {
			fmt.Fprintln(os.Stderr, "failed to write example config:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := logging.Initialize(&cfg.ServerLogging); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Close()

	if err := run(cfg); err != nil {
		logging.Fatal("server failed", logging.Err(err))
	}
}

func run(cfg *config.Config) error {
	db, err := database.New(cfg.Server.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := storage.New(db)
	h := hub.New(store)

	issuer, err := auth.NewTokenIssuer(cfg.Server.JWT)
	if err != nil {
		return fmt.Errorf("configure jwt: %w", err)
	}
	tokens, err := auth.NewTokenStore(cfg.Server.TokenStore)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer tokens.Close()

	server := api.NewServer(store, h, issuer, tokens, db)

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("server listening",
			"addr", addr, "driver", cfg.Server.Database.Driver, "version", version.Full())
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		<-ctx.Done()
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
