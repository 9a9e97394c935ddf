// spacerelay is a UDP matchmaking and relay server for real-time multiplayer
// sessions. Clients register with a handshake naming the party size they
// want; once enough of them are waiting the server assigns them a shared
// session and relays every datagram among its members.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/api"
	"github.com/space-project/spacerelay/internal/cli"
	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/db"
	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/health"
	"github.com/space-project/spacerelay/internal/network"
	"github.com/space-project/spacerelay/internal/scheduler"
	"github.com/space-project/spacerelay/internal/server"
	"github.com/space-project/spacerelay/internal/telemetry"
	"github.com/space-project/spacerelay/internal/util"
)

const Banner = `
  ___ _ __   __ _  ___ ___ _ __ ___| | __ _ _   _
 / __| '_ \ / _' |/ __/ _ \ '__/ _ \ |/ _' | | | |
 \__ \ |_) | (_| | (_|  __/ | |  __/ | (_| | |_| |
 |___/ .__/ \__,_|\___\___|_|  \___|_|\__,_|\__, |
     |_|                                    |___/  v%s
 UDP matchmaking & relay server
`

func main() {
	var (
		bindIP     = flag.String("i", config.DefaultBindIP, "IP address to bind the relay socket to")
		port       = flag.Int("p", config.DefaultRelayPort, "UDP port to bind the relay socket to")
		configPath = flag.String("config", "", "optional JSON configuration file")
	)
	flag.Parse()

	fmt.Printf(Banner, config.Version)
	fmt.Println()

	// Defaults first; reconfigured once the config file is read.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Flags given on the command line win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			cfg.Relay.BindIP = *bindIP
		case "p":
			cfg.Relay.Port = *port
		}
	})

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	log.Info().
		Str("version", config.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting spacerelay")

	os.Exit(run(cfg))
}

// run wires every component, blocks until shutdown and returns the process
// exit status.
func run(cfg *config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	var history *db.HistoryDatabase
	defer func() {
		// Drain in-flight handlers before closing the ledger they write to.
		eventBus.Stop()
		if history != nil {
			history.Close()
		}
	}()

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	conn, err := network.ListenRelay(ctx, cfg.RelayAddr())
	if err != nil {
		log.Error().Err(err).Msg("failed to bind relay socket")
		return 1
	}

	relay := server.New(conn, server.OptionsFromConfig(cfg.Relay), eventBus)

	if cfg.History.Enabled {
		history, err = db.NewHistoryDatabase(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history ledger, history disabled")
			history = nil
		} else {
			history.Subscribe(eventBus)
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	if err := relay.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start relay")
		return 1
	}

	var wg sync.WaitGroup

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, relay, history)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting monitoring API")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	healthMgr := health.NewManager(cfg, eventBus, relay)
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if history != nil {
		sched := scheduler.NewScheduler(cfg, history)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	}

	// The console blocks on stdin, so it is not waited for on shutdown.
	if cfg.Console.Enabled {
		go cli.NewCLI(eventBus, relay, os.Stdin, os.Stdout).Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case <-relay.Done():
		log.Error().Msg("relay worker exited, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	relay.Stop()
	relayErr := relay.Join()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	if relayErr != nil {
		log.Error().Err(relayErr).Msg("spacerelay stopped on error")
		return 1
	}

	log.Info().Msg("spacerelay stopped")
	return 0
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors, waiting 3 seconds between attempts.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
