package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawgate/pkg/clawgate/agent"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/config"
	"github.com/jholhewres/clawgate/pkg/clawgate/llm"
	"github.com/jholhewres/clawgate/pkg/clawgate/memory"
	"github.com/jholhewres/clawgate/pkg/clawgate/session"
	"github.com/jholhewres/clawgate/pkg/clawgate/tools"
)

// newChatCmd creates the `clawgate chat` command, a local REPL against the
// same orchestrator the channels use.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant from the terminal",
		Long: `Chat with the assistant locally. With a message argument, answer once
and exit; without one, start an interactive session.

Examples:
  clawgate chat "what can you do?"
  clawgate chat`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	config.ResolveAPIKey(cfg, logger)
	if cfg.API.APIKey == "" {
		return fmt.Errorf("no API key; set CLAWGATE_API_KEY or run \"clawgate config set-key\"")
	}

	ctx := context.Background()

	// The REPL shares the daemon's stores so a terminal session sees the
	// same memory as the channels.
	sessions := session.New(cfg.Session, logger)
	defer sessions.Close()
	memories := memory.New(cfg.Memory, logger)
	defer memories.Close()

	client := llm.NewHTTPClient(llm.Options{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      cfg.API.APIKey,
		Model:       cfg.API.Model,
		Temperature: cfg.API.Temperature,
		MaxTokens:   cfg.API.MaxTokens,
	}, logger)

	supervisor := tools.NewSupervisor(ctx, logger)
	var searcher tools.Searcher
	if cfg.Agent.SearchEnabled {
		searcher = tools.NewDuckDuckGoSearcher(logger)
	}

	bot := agent.New(agent.Options{
		Client:    client,
		Sessions:  sessions,
		Memories:  memories,
		Extractor: memory.NewExtractor(client, memories, logger),
		Searcher:  searcher,
		Super:     supervisor,
		Prompts:   agent.NewPromptAssembler(cfg.Agent.PersonaFile),
		Logger:    logger,
	})

	ask := func(text string) {
		msg := channels.NewUnifiedMessage("cli", "local", "local", channels.MessagePrivate, text)
		res := bot.Process(ctx, msg)
		if res.Text != "" {
			fmt.Println(res.Text)
		}
	}

	if len(args) > 0 {
		ask(strings.Join(args, " "))
		supervisor.Wait()
		return nil
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive chat. /reset clears the session; Ctrl-D exits.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ask(line)
	}
	supervisor.Wait()
	return nil
}
