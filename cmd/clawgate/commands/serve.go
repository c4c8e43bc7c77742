package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawgate/pkg/clawgate/agent"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/discord"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/lark"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/qq"
	"github.com/jholhewres/clawgate/pkg/clawgate/config"
	"github.com/jholhewres/clawgate/pkg/clawgate/gateway"
	"github.com/jholhewres/clawgate/pkg/clawgate/llm"
	"github.com/jholhewres/clawgate/pkg/clawgate/memory"
	"github.com/jholhewres/clawgate/pkg/clawgate/session"
	"github.com/jholhewres/clawgate/pkg/clawgate/tools"
)

// newServeCmd creates the `clawgate serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with the enabled channels",
		Long: `Start Clawgate as a daemon: connect the enabled channels, expose the
HTTP gateway, and process messages until interrupted.

Examples:
  clawgate serve
  clawgate serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logger := newLogger(cmd, cfg)
	config.ResolveAPIKey(cfg, logger)
	if cfg.API.APIKey == "" {
		return fmt.Errorf("no API key; set CLAWGATE_API_KEY or run \"clawgate config set-key\"")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Stores ──
	sessions := session.New(cfg.Session, logger)
	defer sessions.Close()
	memories := memory.New(cfg.Memory, logger)
	defer memories.Close()

	if janitor := session.NewJanitor(sessions, cfg.Session.RetentionDays, logger); janitor != nil {
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("starting session janitor: %w", err)
		}
		defer janitor.Stop()
	}

	// ── Model client ──
	client := llm.NewHTTPClient(llm.Options{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      cfg.API.APIKey,
		Model:       cfg.API.Model,
		Temperature: cfg.API.Temperature,
		MaxTokens:   cfg.API.MaxTokens,
	}, logger)

	// ── Channels ──
	registry := channels.NewRegistry(logger)
	var qqChannel *qq.QQ
	var larkChannel *lark.Lark
	if cfg.Channels.QQ.Enabled {
		qqChannel = qq.New(cfg.Channels.QQ.Config, logger)
		if err := registry.Register(qqChannel); err != nil {
			return err
		}
	}
	if cfg.Channels.Lark.Enabled {
		larkChannel = lark.New(cfg.Channels.Lark.Config, logger)
		if err := registry.Register(larkChannel); err != nil {
			return err
		}
	}
	if cfg.Channels.Discord.Enabled {
		if err := registry.Register(discord.New(cfg.Channels.Discord.Config, logger)); err != nil {
			return err
		}
	}

	// ── Background work ──
	supervisor := tools.NewSupervisor(ctx, logger)

	// Deferred outcomes route back to chats through the callback identity.
	notify := func(nctx context.Context, callbackID, text string) {
		target, err := agent.ParseCallbackID(callbackID)
		if err != nil {
			logger.Error("undeliverable deferred result", "callback_id", callbackID, "error", err)
			return
		}
		err = registry.Route(nctx, target.Platform, &channels.UnifiedSendRequest{
			ChatID:  target.ChatID,
			Content: text,
			Type:    target.Type,
		})
		if err != nil {
			logger.Error("deferred result delivery failed", "callback_id", callbackID, "error", err)
		}
	}

	var deferred *tools.DeferredRunner
	if cfg.Agent.WrapperURL != "" {
		deferred = tools.NewDeferredRunner(cfg.Agent.WrapperURL, notify, supervisor, logger)
	}
	var searcher tools.Searcher
	if cfg.Agent.SearchEnabled {
		searcher = tools.NewDuckDuckGoSearcher(logger)
	}

	// ── Orchestrator ──
	bot := agent.New(agent.Options{
		Client:    client,
		Sessions:  sessions,
		Memories:  memories,
		Extractor: memory.NewExtractor(client, memories, logger),
		Searcher:  searcher,
		Deferred:  deferred,
		Super:     supervisor,
		Prompts:   agent.NewPromptAssembler(cfg.Agent.PersonaFile),
		Notify:    notify,
		Logger:    logger,
	})

	registry.SetHandler(func(hctx context.Context, msg *channels.UnifiedMessage) {
		res := bot.Process(hctx, msg)
		if res.Text == "" {
			return
		}
		err := registry.Route(hctx, msg.Platform, &channels.UnifiedSendRequest{
			ChatID:  msg.ChatID,
			Content: res.Text,
			Type:    msg.Type,
		})
		if err != nil {
			logger.Error("reply delivery failed", "platform", msg.Platform, "chat", msg.ChatID, "error", err)
		}
	})

	registry.StartAll(ctx)
	defer registry.StopAll()
	if registry.Count() == 0 {
		return fmt.Errorf("no channel started")
	}

	// ── HTTP gateway ──
	gw := gateway.New(cfg.Gateway, registry, logger)
	if qqChannel != nil {
		gw.MountWebhook("qq", qqChannel.WebhookHandler())
	}
	if larkChannel != nil {
		gw.MountWebhook("lark", larkChannel.WebhookHandler())
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}

	logger.Info("clawgate running", "channels", registry.Count(), "gateway", cfg.Gateway.Address)

	// ── Wait for shutdown ──
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	// In-flight background tasks keep their context until they finish; the
	// deferred cancel runs only after the wait.
	supervisor.Wait()
	return nil
}
