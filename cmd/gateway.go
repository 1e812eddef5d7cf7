package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulsebot/pulse/pkg/api"
	"github.com/pulsebot/pulse/pkg/breaker"
	"github.com/pulsebot/pulse/pkg/channels"
	"github.com/pulsebot/pulse/pkg/config"
	"github.com/pulsebot/pulse/pkg/delegate"
	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/providers"
	"github.com/pulsebot/pulse/pkg/realtime"
	"github.com/pulsebot/pulse/pkg/router"
	"github.com/pulsebot/pulse/pkg/scheduler"
	"github.com/pulsebot/pulse/pkg/storage"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the pulse gateway",
	RunE:  runGateway,
}

func runGateway(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bus := eventbus.NewSized(cfg.Bus.QueueSize)
	breakers := breaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.RecoveryTimeoutDuration())

	decider, responder := buildReasoning(cfg)

	var delegator router.Delegator
	if cfg.Delegate.WebhookURL != "" {
		delegator = delegate.NewWebhookDelegator(cfg.Delegate.WebhookURL)
	} else {
		delegator = delegate.LocalDelegator{}
	}

	rtr := router.New(bus, store, store, decider, responder, delegator, breakers, router.Config{
		QueueSize:     cfg.Router.QueueSize,
		ShutdownGrace: cfg.ShutdownGraceDuration(),
		ContextLimit:  cfg.Router.ContextLimit,
	})

	registry := realtime.NewRegistry(cfg.Realtime.QueueSize)
	subscriber := realtime.NewSubscriber(bus, registry)
	if err := subscriber.Start(); err != nil {
		return fmt.Errorf("start delivery subscriber: %w", err)
	}

	server := api.NewServer(cfg, bus, registry, rtr, breakers)
	channelMgr := channels.NewManager(bus, rtr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The consumer must outlive the signal context: accepted messages are
	// drained by Cleanup within its grace period, and Cleanup decides when
	// in-flight work gets cancelled.
	rtr.Start(context.Background())

	if err := channelMgr.Start(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	if active := channelMgr.Active(); len(active) > 0 {
		logger.InfoCF("gateway", "Channels active", map[string]interface{}{"channels": active})
	}

	sched := scheduler.New(bus)
	if cfg.Scheduler.Enabled {
		err := sched.AddJob("stats", cfg.Scheduler.StatsCron, eventbus.EventStatsSnapshot, func() map[string]interface{} {
			return map[string]interface{}{
				"bus":         bus.Stats(),
				"router":      rtr.Stats(),
				"connections": registry.Stats(),
				"breakers":    breakers.Snapshot(),
			}
		})
		if err != nil {
			return err
		}
		err = sched.AddJob("health", "*/5 * * * *", eventbus.EventSystemHealth, func() map[string]interface{} {
			return map[string]interface{}{
				"status":      "ok",
				"connections": registry.Stats().Total,
				"breakers":    breakers.Snapshot(),
			}
		})
		if err != nil {
			return err
		}
		sched.Start()
	}

	bus.Publish(eventbus.EventSystemStartup, map[string]interface{}{
		"version": version,
	}, "gateway")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdown(server, rtr, subscriber, registry, channelMgr, sched, bus)
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "gateway error: %v\n", err)
		return err
	}
	logger.InfoC("gateway", "Shutdown complete")
	return nil
}

// buildReasoning picks decider and responder from the configured
// provider, falling back to the heuristic pair when no API key is set.
func buildReasoning(cfg *config.Config) (router.Decider, router.Responder) {
	var provider providers.LLMProvider
	var model string

	switch cfg.Providers.Primary {
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey != "" {
			provider = providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model)
			model = cfg.Providers.Anthropic.Model
		}
	case "openai":
		if cfg.Providers.OpenAI.APIKey != "" {
			provider = providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Model)
			model = cfg.Providers.OpenAI.Model
		}
	}

	if provider == nil {
		if cfg.Providers.Primary != "heuristic" {
			logger.WarnCF("gateway", "Provider unavailable, using heuristic routing", map[string]interface{}{
				"provider": cfg.Providers.Primary,
			})
		}
		return providers.HeuristicDecider{}, providers.EchoResponder{}
	}

	logger.InfoCF("gateway", "Reasoning provider configured", map[string]interface{}{
		"provider": cfg.Providers.Primary,
		"model":    model,
	})
	return providers.NewLLMDecider(provider, model), providers.NewLLMResponder(provider, model)
}

// shutdown unwinds in dependency order: stop accepting HTTP, drain the
// router, then tear down delivery and the bus.
func shutdown(server *api.Server, rtr *router.Router, subscriber *realtime.Subscriber, registry *realtime.Registry, channelMgr *channels.Manager, sched *scheduler.Scheduler, bus *eventbus.Bus) {
	logger.InfoC("gateway", "Shutting down")

	bus.Publish(eventbus.EventSystemShutdown, nil, "gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "HTTP shutdown error", map[string]interface{}{"error": err.Error()})
	}

	sched.Stop()
	channelMgr.Stop()
	rtr.Cleanup()
	subscriber.Stop()
	registry.CloseAll()
	bus.Close()
}
