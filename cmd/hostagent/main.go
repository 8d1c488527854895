package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/hostagent/internal/agent"
	"github.com/HerbHall/hostagent/internal/clock"
	"github.com/HerbHall/hostagent/internal/collector"
	"github.com/HerbHall/hostagent/internal/config"
	"github.com/HerbHall/hostagent/internal/delivery"
	"github.com/HerbHall/hostagent/internal/hostinfo"
	"github.com/HerbHall/hostagent/internal/inventory"
	"github.com/HerbHall/hostagent/internal/logging"
	"github.com/HerbHall/hostagent/internal/metrics"
	"github.com/HerbHall/hostagent/internal/server"
	"github.com/HerbHall/hostagent/internal/store"
	"github.com/HerbHall/hostagent/internal/version"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	printConfig := flag.Bool("print-config", false, "print the default configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}
	if *printConfig {
		if err := config.WriteDefaults(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	if err := run(cfg, logger); err != nil {
		logger.Error("hostagent exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("hostagent starting", zap.String("version", version.Short()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	containerMode := hostinfo.DetectContainer(logger)

	db, err := store.New(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	identities, err := agent.NewSQLiteIdentityStore(ctx, db)
	if err != nil {
		return err
	}

	m := metrics.New()

	client, err := delivery.New(delivery.Config{
		BaseURL:     cfg.APIURL,
		AgentKey:    cfg.AgentKey,
		TenantID:    cfg.TenantID,
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryDelay,
		Timeout:     cfg.RequestTimeout,
		Compress:    cfg.CompressRequests,
	}, logger.Named("delivery"), delivery.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("create delivery client: %w", err)
	}

	processes := inventory.NewProcessLister(
		cfg.Collectors.Process.TopN,
		cfg.Collectors.Process.CollectAll,
		logger.Named("inventory"),
	)

	registry, err := collector.FromConfig(cfg.Collectors, processes, containerMode, logger.Named("collector"))
	if err != nil {
		return fmt.Errorf("build collectors: %w", err)
	}

	opts := []agent.Option{
		agent.WithIdentityStore(identities),
		agent.WithMetrics(m),
	}
	if cfg.Collectors.Process.Enabled {
		opts = append(opts, agent.WithProcessSource(processes))
	}
	if cfg.Collectors.Docker.Enabled {
		docker := inventory.NewDockerLister(clock.Real(), logger.Named("docker"))
		defer docker.Close()
		opts = append(opts, agent.WithContainerSource(docker))
	}

	a := agent.New(agent.NewConfig(cfg), client, registry, logger.Named("agent"), opts...)

	if cfg.MetricsAddr != "" {
		srv := server.New(cfg.MetricsAddr, func() server.Status {
			return server.Status{
				State:      string(a.State()),
				ResourceID: a.ResourceID(),
				Buffered:   a.Buffered(),
				Dropped:    a.Dropped(),
			}
		}, m.Handler(), logger.Named("server"))

		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown error", zap.Error(err))
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	logger.Info("hostagent stopped")
	return nil
}
