// Package agent is the orchestrator: it turns one inbound message into one
// reply, driving the session log, long-term memory, intent steering, the
// inline command protocol, and background work.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/llm"
	"github.com/jholhewres/clawgate/pkg/clawgate/memory"
	"github.com/jholhewres/clawgate/pkg/clawgate/session"
	"github.com/jholhewres/clawgate/pkg/clawgate/tools"
)

// resetKeywords clear the user's session when sent as the whole message.
var resetKeywords = []string{"/reset", "/clear", "重置", "清除记忆"}

const (
	resetAck    = "好的，已经清空这次对话的记忆，我们重新开始吧。"
	apologyText = "抱歉，我这边出了点问题，稍后再试一下。"
)

// Result is the outcome of processing one message.
type Result struct {
	Success bool
	Text    string
	Mode    Mode
	Err     error
}

// Agent orchestrates one conversation exchange end to end.
type Agent struct {
	client    llm.Client
	sessions  session.Store
	memories  memory.Store
	extractor *memory.Extractor
	searcher  tools.Searcher
	deferred  *tools.DeferredRunner
	super     *tools.Supervisor
	prompts   *PromptAssembler
	notify    tools.Notifier
	logger    *slog.Logger
}

// Options wires an Agent. All fields except Searcher and Deferred are
// required; a nil Searcher answers search commands with a static notice,
// and a nil Deferred declines background tasks.
type Options struct {
	Client    llm.Client
	Sessions  session.Store
	Memories  memory.Store
	Extractor *memory.Extractor
	Searcher  tools.Searcher
	Deferred  *tools.DeferredRunner
	Super     *tools.Supervisor
	Prompts   *PromptAssembler

	// Notify delivers out-of-band notices (search in progress, deferred
	// results) to the chat addressed by a callback id. Optional.
	Notify tools.Notifier

	Logger *slog.Logger
}

// New builds the orchestrator.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client:    opts.Client,
		sessions:  opts.Sessions,
		memories:  opts.Memories,
		extractor: opts.Extractor,
		searcher:  opts.Searcher,
		deferred:  opts.Deferred,
		super:     opts.Super,
		prompts:   opts.Prompts,
		notify:    opts.Notify,
		logger:    logger.With("component", "agent"),
	}
}

// Process handles one inbound message and returns the reply. Failures
// produce an apology result rather than an empty reply; the error is kept
// on the Result for logging.
func (a *Agent) Process(ctx context.Context, msg *channels.UnifiedMessage) Result {
	now := time.Now()
	userID := SanitizeUserID(msg.UserID)
	userKey := msg.Platform + ":" + userID
	sessionID := BuildSessionID(msg.Platform, userID, now)
	callbackID := BuildCallbackID(msg.Platform, msg.Type, msg.ChatID)

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return Result{Success: true, Text: ""}
	}

	if isResetKeyword(content) {
		if err := a.sessions.Clear(ctx, sessionID); err != nil {
			a.logger.Error("session reset failed", "session", sessionID, "error", err)
			return Result{Success: false, Text: apologyText, Err: err}
		}
		// The reset also forgets the user's long-term memory; the session is
		// already gone, so a memory failure only gets logged.
		if err := a.memories.Delete(ctx, userKey); err != nil {
			a.logger.Warn("memory reset failed", "user", userKey, "error", err)
		}
		a.logger.Info("session and memory reset", "session", sessionID, "user", userKey)
		return Result{Success: true, Text: resetAck}
	}

	mode := Classify(content)

	history, err := a.sessions.History(ctx, sessionID)
	if err != nil {
		a.logger.Error("history load failed", "session", sessionID, "error", err)
		return Result{Success: false, Text: apologyText, Mode: mode, Err: err}
	}
	userMemory, err := a.memories.Get(ctx, userKey)
	if err != nil {
		// Memory is an enhancement, not a dependency; answer without it.
		a.logger.Warn("memory load failed", "user", userKey, "error", err)
		userMemory = ""
	}

	messages := a.buildMessages(userKey, userMemory, now, mode, history, content)

	reply, err := a.client.Complete(ctx, messages)
	if err != nil {
		a.logger.Error("completion failed", "session", sessionID, "error", err)
		return Result{Success: false, Text: apologyText, Mode: mode, Err: err}
	}

	if err := a.sessions.Append(ctx, sessionID, session.RoleUser, content); err != nil {
		a.logger.Warn("session append failed", "session", sessionID, "error", err)
	}

	// One search round trip at most. The follow-up answer is checked for a
	// deferred command, but never for another search.
	if query, ok := ExtractSearch(reply); ok {
		reply, err = a.runSearch(ctx, sessionID, callbackID, messages, reply, query)
		if err != nil {
			a.logger.Error("search round trip failed", "session", sessionID, "error", err)
			return Result{Success: false, Text: apologyText, Mode: mode, Err: err}
		}
	}

	if task, ok := ExtractDeferred(reply); ok {
		reply = a.dispatchDeferred(task, sessionID, callbackID, reply)
	}

	if err := a.sessions.Append(ctx, sessionID, session.RoleAssistant, reply); err != nil {
		a.logger.Warn("session append failed", "session", sessionID, "error", err)
	}

	a.maybeExtract(ctx, userKey, sessionID)

	return Result{Success: true, Text: reply, Mode: mode}
}

func (a *Agent) buildMessages(userKey, userMemory string, now time.Time, mode Mode, history []session.Turn, content string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.System(a.prompts.Assemble(userKey, userMemory, now, mode)))
	for _, t := range history {
		switch t.Role {
		case session.RoleUser:
			messages = append(messages, llm.User(t.Content))
		case session.RoleAssistant:
			messages = append(messages, llm.Assistant(t.Content))
		}
	}
	return append(messages, llm.User(content))
}

// runSearch performs the single search round trip: run the query, feed the
// results back, and return the model's grounded answer. The command reply
// and the observation are recorded in the session so following exchanges
// see what was searched.
func (a *Agent) runSearch(ctx context.Context, sessionID, callbackID string, messages []llm.Message, commandReply, query string) (string, error) {
	a.logger.Info("search requested", "query", query)
	if a.notify != nil {
		a.notify(ctx, callbackID, "正在搜索: "+query)
	}

	var results string
	if a.searcher == nil {
		results = "Search is not available in this deployment. Answer from what you already know and say so."
	} else {
		var err error
		results, err = a.searcher.Search(ctx, query)
		if err != nil {
			results = "The search failed: " + err.Error() + "\nAnswer from what you already know and say so."
		}
	}
	observation := results + "\n\nNow answer the original question using these results. Do not emit another search command."

	if err := a.sessions.Append(ctx, sessionID, session.RoleAssistant, commandReply); err != nil {
		a.logger.Warn("session append failed", "session", sessionID, "error", err)
	}
	if err := a.sessions.Append(ctx, sessionID, session.RoleUser, observation); err != nil {
		a.logger.Warn("session append failed", "session", sessionID, "error", err)
	}

	followUp := append(messages, llm.Assistant(commandReply), llm.User(observation))
	return a.client.Complete(ctx, followUp)
}

// dispatchDeferred hands the task off and returns the acknowledgment. With
// no runner configured the reply passes through unchanged; the user sees
// the raw marker rather than a silent drop.
func (a *Agent) dispatchDeferred(task, sessionID, callbackID, reply string) string {
	if a.deferred == nil || !a.deferred.Enabled() {
		a.logger.Warn("deferred task requested but no wrapper configured", "session", sessionID)
		return reply
	}
	return a.deferred.Dispatch(task, sessionID, callbackID)
}

// maybeExtract kicks off background memory extraction when the session has
// accumulated enough new turns.
func (a *Agent) maybeExtract(ctx context.Context, userKey, sessionID string) {
	if a.extractor == nil || a.super == nil {
		return
	}
	history, err := a.sessions.History(ctx, sessionID)
	if err != nil {
		return
	}
	if !memory.ShouldTrigger(len(history)) {
		return
	}
	turns := history
	a.super.Go("memory_extract", func(bg context.Context) error {
		return a.extractor.Extract(bg, userKey, turns)
	})
}

func isResetKeyword(content string) bool {
	for _, kw := range resetKeywords {
		if content == kw {
			return true
		}
	}
	return false
}

// Apology returns the canned failure reply, for callers that need to
// surface an error outside Process.
func Apology() string { return apologyText }
