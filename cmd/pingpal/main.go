// pingpal - chat-platform relay bot for hosted language models.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingpal-io/pingpal/pkg/agent"
	"github.com/pingpal-io/pingpal/pkg/api"
	"github.com/pingpal-io/pingpal/pkg/attach"
	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/channels"
	"github.com/pingpal-io/pingpal/pkg/config"
	"github.com/pingpal-io/pingpal/pkg/logger"
	"github.com/pingpal-io/pingpal/pkg/persona"
	"github.com/pingpal-io/pingpal/pkg/providers"
	"github.com/pingpal-io/pingpal/pkg/ratelimit"
	"github.com/pingpal-io/pingpal/pkg/scheduler"
	"github.com/pingpal-io/pingpal/pkg/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	cliMode := flag.Bool("cli", false, "enable the local terminal channel")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *cliMode {
		cfg.CLI.Enabled = true
	}
	logger.Init(logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		logger.ErrorCF("main", "Fatal error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messageBus := bus.NewMessageBus()
	registry := session.NewRegistry(cfg.Limits.MaxHistoryLength, cfg.Limits.MaxHistoryTokens)
	sched := scheduler.New(cfg.Limits.MaxPendingPerChannel)
	limits := ratelimit.NewTable(cfg.UserCooldown(), cfg.ChannelCooldown())
	ingestor := attach.NewIngestor(&http.Client{}, cfg.Limits.MaxImageBytes, cfg.AttachmentTimeout())

	// Completion chain: OpenAI first, Anthropic as fallback, both behind a
	// process-wide concurrency bound.
	cooldown := providers.NewCooldownTracker()
	chain := providers.NewFallbackChain(cooldown)
	opts := providers.Options{
		Temperature:     cfg.Model.Temperature,
		MaxTokens:       cfg.Model.MaxTokens,
		ReasoningEffort: cfg.Model.ReasoningEffort,
		Verbosity:       cfg.Model.Verbosity,
	}
	if cfg.OpenAI.APIKey != "" {
		chain.Add(providers.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase))
		opts.Model = cfg.OpenAI.Model
	}
	if cfg.Anthropic.APIKey != "" {
		chain.Add(providers.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.APIBase))
		if opts.Model == "" {
			opts.Model = cfg.Anthropic.Model
		}
	}
	completer := providers.NewThrottled(chain, cfg.Limits.MaxConcurrentChats)

	systemPrompt := cfg.Model.SystemPrompt
	if cfg.Persona != "" {
		personas := persona.NewRegistry()
		n, warnings := personas.LoadDefaults()
		for _, w := range warnings {
			logger.WarnCF("main", "Persona skipped", map[string]interface{}{"reason": w})
		}
		p, ok := personas.Get(cfg.Persona)
		if !ok {
			return fmt.Errorf("persona %q not found (%d personas loaded)", cfg.Persona, n)
		}
		systemPrompt = p.SystemPrompt
		opts = p.Apply(opts)
		logger.InfoCF("main", "Persona active", map[string]interface{}{
			"persona": p.Name,
			"source":  p.SourceFile,
		})
	}

	loop := agent.NewLoop(agent.Config{
		Bus:          messageBus,
		Registry:     registry,
		Scheduler:    sched,
		Limits:       limits,
		Ingestor:     ingestor,
		Completer:    completer,
		Options:      opts,
		SystemPrompt: systemPrompt,
	})

	manager := channels.NewManager(messageBus)
	if cfg.Discord.Enabled {
		discord, err := channels.NewDiscord(channels.DiscordOpts{Token: cfg.Discord.Token}, messageBus)
		if err != nil {
			return err
		}
		manager.Register(discord)
	}
	if cfg.Telegram.Enabled {
		telegram, err := channels.NewTelegram(cfg.Telegram.Token, messageBus)
		if err != nil {
			return err
		}
		manager.Register(telegram)
	}
	if cfg.CLI.Enabled {
		manager.Register(channels.NewCLI(messageBus))
	}
	for name, limit := range manager.TransportLimits() {
		loop.SetTransportLimit(name, limit)
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	go loop.Run(ctx)
	go registry.RunSweeper(ctx, cfg.Sweep.Cron, cfg.IdleTTL())

	var opsServer *api.Server
	if cfg.Gateway.Enabled {
		opsServer = api.NewServer(cfg.Gateway.Addr, registry, sched, messageBus)
		if err := opsServer.Start(ctx); err != nil {
			return err
		}
	}

	logger.InfoC("main", "pingpal is online and ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.InfoC("main", "Shutdown signal received")

	// Stop intake first, let in-flight turns drain, then tear down the
	// shared machinery (the outbound pump must outlive the last turn).
	manager.StopAll()
	loop.Stop()
	sched.Wait()
	cancel()
	if opsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}
	messageBus.Close()
	logger.InfoC("main", "Shutdown complete")
	return nil
}
