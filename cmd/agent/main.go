package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modemfleet/internal/agent"
	"github.com/modemfleet/internal/config"
	"github.com/modemfleet/internal/logging"
	"github.com/modemfleet/internal/modem"
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
		fmt.Println("modemfleet-agent", version.Full())
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
	if err := logging.Initialize(&cfg.AgentLogging); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Close()

	client := agent.New(cfg.Agent, modem.SerialDialer{}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("agent starting",
		"device_id", cfg.Agent.DeviceID, "server", cfg.Agent.ServerURL, "version", version.Full())
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal("agent failed", logging.Err(err))
	}
	logging.Info("agent stopped")
}
