package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/hf1860/console/internal/config"
	"github.com/hf1860/console/internal/console"
	"github.com/hf1860/console/internal/diag"
	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/sdk/sim"
	"github.com/hf1860/console/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	simDevices := flag.String("sim-devices", "", "Comma-separated serials for the simulated SDK")
	failInit := flag.Bool("sim-fail-init", false, "Make the simulated SDK fail to initialise")
	flag.Parse()

	if err := run(*configPath, *port, *simDevices, *failInit); err != nil {
		fmt.Fprintf(os.Stderr, "consoled: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, port int, simDevices string, failInit bool) error {
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if simDevices != "" {
		cfg.Sim.Devices = strings.Split(simDevices, ",")
	}
	if failInit {
		cfg.Sim.FailInit = true
	}

	logOut, closeLog, err := openLog(cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()
	clog.Configure(clog.Config{Level: cfg.Log.Level, Output: logOut, Service: "consoled"})
	logger := clog.WithComponent("main")
	if !found {
		logger.Info().Str("path", configPath).Msg("config file not found, using defaults")
	}

	path := configPath
	if !found {
		path = ""
	}
	holder := config.NewHolder(cfg, path)

	c := console.New(sim.New(cfg.Sim), cfg)
	broadcaster := ws.NewBroadcaster(c, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.MaxClients)
	defer broadcaster.Stop()
	c.AddDisplay(broadcaster)

	holder.OnReload(func(next *config.Config) {
		if err := clog.SetLevel(next.Log.Level); err != nil {
			logger.Warn().Err(err).Msg("ignoring log level")
		}
		broadcaster.SetThrottle(next.Broadcast.Throttle)
		c.ApplyConfig(next)
	})

	server := ws.NewServer(cfg, c, broadcaster, diag.NewReporter())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Run(ctx) })

	// Init failure is reported to displays; the daemon keeps serving so
	// operators can see why.
	if err := c.Init(); err != nil {
		logger.Error().Err(err).Msg("sdk unavailable")
	}
	defer c.Close()

	if err := holder.Watch(ctx); err != nil {
		logger.Warn().Err(err).Str(clog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info().Str(clog.FieldEvent, "config.reload_signal").Msg("received SIGHUP, reloading config")
				if err := holder.Reload(); err != nil {
					logger.Warn().Err(err).Msg("config reload failed")
				}
			}
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g.Go(func() error { return ws.Serve(ctx, addr, server.Handler()) })

	err = g.Wait()
	logger.Info().Msg("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
