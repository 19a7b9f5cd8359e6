package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"relaylabs/relay/pkg/activity"
	"relaylabs/relay/pkg/config"
	"relaylabs/relay/pkg/modelmap"
	"relaylabs/relay/pkg/modelsync"
	"relaylabs/relay/pkg/passivehealth"
	"relaylabs/relay/pkg/proxy"
	"relaylabs/relay/pkg/registry"
	"relaylabs/relay/pkg/requestlog"
	"relaylabs/relay/pkg/routing"
	"relaylabs/relay/pkg/server"
	"relaylabs/relay/pkg/telemetry/logging"
	"relaylabs/relay/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway with the specified configuration.

The server listens on the configured address and proxies completion
requests to the configured upstream providers.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/config.yaml

  # Override listen address
  relay run --listen 0.0.0.0:8080

  # Validate config without starting
  relay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Relay v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Printf("✓ Configuration loaded (%d providers)\n", len(cfg.Providers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Provider registry and routing.
	reg := registry.New(registry.Cooldowns{
		RateLimited: cfg.Cooldowns.RateLimited,
		ServerError: cfg.Cooldowns.ServerError,
		Timeout:     cfg.Cooldowns.Timeout,
	})
	if err := registerProviders(reg, cfg.Providers); err != nil {
		return err
	}
	mapper := modelmap.New(modelmap.Table(cfg.ModelMappings))
	router := routing.New(reg, mapper)

	client := proxy.NewHTTPClient(proxy.ClientConfig{
		MaxIdleConns:        cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Upstream.IdleConnTimeout,
	})

	tracker := activity.New()

	// Optional collaborators. Sinks are only handed to the orchestrator
	// when actually constructed.
	var mtr *metrics.Metrics
	if cfg.Metrics.IsEnabled() {
		mtr = metrics.New(metrics.Config{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: cfg.Metrics.Subsystem,
		})
		fmt.Println("✓ Metrics enabled")
	}

	var health *passivehealth.Recorder
	if cfg.PassiveHealth.Enabled {
		health, err = passivehealth.Open(passivehealth.Config{
			Path:       cfg.PassiveHealth.Path,
			BufferSize: cfg.PassiveHealth.BufferSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open passive health store: %w", err)
		}
		defer health.Close()
		fmt.Println("✓ Passive health store initialized")
	}

	var rlog *requestlog.Store
	if cfg.RequestLog.Enabled {
		rlog, err = requestlog.Open(requestlog.Config{
			Path:          cfg.RequestLog.Path,
			BufferSize:    cfg.RequestLog.BufferSize,
			RetentionDays: cfg.RequestLog.RetentionDays,
			PruneSchedule: cfg.RequestLog.PruneSchedule,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open request log: %w", err)
		}
		defer rlog.Close()
		fmt.Println("✓ Request log initialized")
	}

	pcfg := proxy.Config{
		Router:         router,
		Registry:       reg,
		Client:         client,
		DefaultTimeout: cfg.Upstream.DefaultTimeout,
		Logger:         logger,
		Activity:       tracker,
	}
	if health != nil {
		pcfg.Health = health
	}
	if mtr != nil {
		pcfg.Metrics = mtr
	}
	orch := proxy.New(pcfg)

	if cfg.ModelSync.Enabled {
		syncer, err := modelsync.New(reg, client, modelsync.Config{
			Schedule: cfg.ModelSync.Schedule,
			Timeout:  cfg.ModelSync.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure model sync: %w", err)
		}
		syncer.Start()
		defer syncer.Stop()
		fmt.Println("✓ Model sync scheduled")
	}

	if mtr != nil {
		go publishProviderStates(ctx, reg, mtr)
	}

	// Hot reload: provider set and model mappings follow the file;
	// listener settings require a restart.
	watcher, err := config.NewWatcher(cfgFile, time.Second, logger)
	if err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled", "error", err)
	} else {
		go watcher.Watch(ctx, func(next *config.Config) {
			mapper.Update(modelmap.Table(next.ModelMappings))
			reconcileProviders(reg, next.Providers)
		})
	}

	srv := server.New(server.Options{
		Config:        cfg.Server,
		Orchestrator:  orch,
		Registry:      reg,
		Logger:        logger,
		Activity:      tracker,
		PassiveHealth: health,
		RequestLog:    rlog,
		Metrics:       mtr,
		AdminEnabled:  cfg.Admin.IsEnabled(),
	})

	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Println("✓ Server stopped")
	return nil
}

func providerFromConfig(pc config.ProviderConfig) registry.Provider {
	return registry.Provider{
		ID:             pc.ID,
		Name:           pc.Name,
		BaseURL:        pc.BaseURL,
		APIKey:         pc.APIKey,
		Weight:         pc.Weight,
		Timeout:        pc.Timeout,
		Enabled:        pc.IsEnabled(),
		AllowModelSync: pc.SyncAllowed(),
		Protocol:       pc.Protocol,
	}
}

func registerProviders(reg *registry.Registry, providers []config.ProviderConfig) error {
	for _, pc := range providers {
		if err := reg.Register(providerFromConfig(pc)); err != nil {
			return fmt.Errorf("failed to register provider %q: %w", pc.ID, err)
		}
		if len(pc.Models) > 0 {
			reg.SetModels(pc.ID, pc.Models)
		}
	}
	return nil
}

// reconcileProviders brings the registry in line with a reloaded
// provider list. Unchanged providers keep their circuit breaker state;
// changed ones are re-registered and start healthy.
func reconcileProviders(reg *registry.Registry, providers []config.ProviderConfig) {
	desired := make(map[string]struct{}, len(providers))
	for _, pc := range providers {
		desired[pc.ID] = struct{}{}
		next := providerFromConfig(pc)
		if current, ok := reg.Get(pc.ID); ok {
			if current == next {
				reg.SetModels(pc.ID, pc.Models)
				continue
			}
			reg.Deregister(pc.ID)
		}
		if err := reg.Register(next); err != nil {
			continue
		}
		reg.SetModels(pc.ID, pc.Models)
	}
	for _, current := range reg.List() {
		if _, ok := desired[current.ID]; !ok {
			reg.Deregister(current.ID)
		}
	}
}

// publishProviderStates mirrors the circuit breaker state into the
// provider state gauge until the context is cancelled.
func publishProviderStates(ctx context.Context, reg *registry.Registry, mtr *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		for _, st := range reg.Snapshot() {
			mtr.SetProviderState(st.ID, string(st.Status))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
