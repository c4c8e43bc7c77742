package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/llm"
	"github.com/jholhewres/clawgate/pkg/clawgate/memory"
	"github.com/jholhewres/clawgate/pkg/clawgate/session"
)

// scriptedClient returns queued replies in order, recording each request.
type scriptedClient struct {
	replies []string
	err     error
	calls   [][]llm.Message
}

func (c *scriptedClient) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	c.calls = append(c.calls, msgs)
	if c.err != nil {
		return "", c.err
	}
	if len(c.calls) > len(c.replies) {
		return "", errors.New("no scripted reply left")
	}
	return c.replies[len(c.calls)-1], nil
}

type staticSearcher struct {
	result string
	query  string
}

func (s *staticSearcher) Search(_ context.Context, query string) (string, error) {
	s.query = query
	return s.result, nil
}

func newTestAgent(client llm.Client, searcher *staticSearcher) (*Agent, session.Store, memory.Store) {
	sessions := session.NewMemStore(10)
	memories := memory.NewMemStore()
	opts := Options{
		Client:   client,
		Sessions: sessions,
		Memories: memories,
		Prompts:  NewPromptAssembler(""),
		Logger:   slog.Default(),
	}
	if searcher != nil {
		opts.Searcher = searcher
	}
	return New(opts), sessions, memories
}

func msg(content string) *channels.UnifiedMessage {
	return channels.NewUnifiedMessage("qq", "42", "42", channels.MessagePrivate, content)
}

func TestProcessPlainExchange(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{replies: []string{"hello there"}}
	agent, sessions, _ := newTestAgent(client, nil)

	res := agent.Process(context.Background(), msg("hi"))
	if !res.Success || res.Text != "hello there" {
		t.Fatalf("Process() = %+v", res)
	}

	// Both sides of the exchange land in the session.
	sid := BuildSessionID("qq", "42", time.Now())
	turns, _ := sessions.History(context.Background(), sid)
	if len(turns) != 2 {
		t.Fatalf("session has %d turns, want 2", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[1].Role != session.RoleAssistant {
		t.Errorf("turn roles = %q, %q", turns[0].Role, turns[1].Role)
	}
}

func TestProcessResetKeywords(t *testing.T) {
	t.Parallel()
	for _, kw := range []string{"/reset", "/clear", "重置", "清除记忆"} {
		client := &scriptedClient{replies: []string{"should not be called"}}
		agent, sessions, memories := newTestAgent(client, nil)
		ctx := context.Background()

		sid := BuildSessionID("qq", "42", time.Now())
		sessions.Append(ctx, sid, session.RoleUser, "earlier message")
		memories.Put(ctx, "qq:42", "user likes trains")

		res := agent.Process(ctx, msg(kw))
		if !res.Success || res.Text == "" {
			t.Errorf("reset %q: result = %+v", kw, res)
		}
		if len(client.calls) != 0 {
			t.Errorf("reset %q: model was called", kw)
		}
		if ok, _ := sessions.Exists(ctx, sid); ok {
			t.Errorf("reset %q: session not cleared", kw)
		}
		// A reset forgets the user entirely, long-term memory included.
		if remembered, _ := memories.Get(ctx, "qq:42"); remembered != "" {
			t.Errorf("reset %q: long-term memory survived: %q", kw, remembered)
		}
	}
}

func TestProcessSearchRoundTrip(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{replies: []string{
		"[Search: go 1.24 release notes]",
		"Go 1.24 shipped generic type aliases.",
	}}
	searcher := &staticSearcher{result: "1. Go 1.24 Release Notes\nhttps://go.dev/doc/go1.24"}
	agent, sessions, _ := newTestAgent(client, searcher)

	res := agent.Process(context.Background(), msg("what's new in go 1.24?"))
	if !res.Success {
		t.Fatalf("Process() = %+v", res)
	}
	if res.Text != "Go 1.24 shipped generic type aliases." {
		t.Errorf("final text = %q", res.Text)
	}
	if searcher.query != "go 1.24 release notes" {
		t.Errorf("search query = %q", searcher.query)
	}

	// The second call carries the search results back to the model.
	if len(client.calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.calls))
	}
	second := client.calls[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "go.dev/doc/go1.24") {
		t.Errorf("follow-up missing search results: %q", last.Content)
	}

	// The round trip is recorded: question, command, observation, answer.
	sid := BuildSessionID("qq", "42", time.Now())
	turns, _ := sessions.History(context.Background(), sid)
	if len(turns) != 4 {
		t.Fatalf("session has %d turns, want 4", len(turns))
	}
	if !strings.Contains(turns[1].Content, "[Search:") {
		t.Errorf("command turn = %q", turns[1].Content)
	}
	if turns[2].Role != session.RoleUser || !strings.Contains(turns[2].Content, "go.dev/doc/go1.24") {
		t.Errorf("observation turn = %+v", turns[2])
	}
}

func TestProcessDeferredAfterSearch(t *testing.T) {
	t.Parallel()
	// A deferred command in the post-search answer is still honored. With
	// no runner configured the marker passes through unchanged, and no
	// third completion happens for the second command.
	client := &scriptedClient{replies: []string{
		"[Search: latest repo activity]",
		"[Clawdbot: summarize the repository]",
	}}
	searcher := &staticSearcher{result: "no results"}
	agent, _, _ := newTestAgent(client, searcher)

	res := agent.Process(context.Background(), msg("summarize the repo with fresh info"))
	if !res.Success {
		t.Fatalf("Process() = %+v", res)
	}
	if res.Text != "[Clawdbot: summarize the repository]" {
		t.Errorf("expected raw passthrough without a runner, got %q", res.Text)
	}
	if len(client.calls) != 2 {
		t.Errorf("model called %d times, want 2 (no third search pass)", len(client.calls))
	}
}

func TestProcessSearchEmitsNotice(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{replies: []string{"[Search: stock price]", "about 100"}}
	searcher := &staticSearcher{result: "results"}

	var mu sync.Mutex
	var notices []string
	opts := Options{
		Client:   client,
		Sessions: session.NewMemStore(10),
		Memories: memory.NewMemStore(),
		Searcher: searcher,
		Prompts:  NewPromptAssembler(""),
		Notify: func(_ context.Context, callbackID, text string) {
			mu.Lock()
			defer mu.Unlock()
			notices = append(notices, callbackID+"|"+text)
		},
		Logger: slog.Default(),
	}
	res := New(opts).Process(context.Background(), msg("price?"))
	if !res.Success {
		t.Fatalf("Process() = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || !strings.HasPrefix(notices[0], "qq:private:42|") {
		t.Errorf("notices = %v", notices)
	}
	if !strings.Contains(notices[0], "stock price") {
		t.Errorf("notice missing query: %v", notices)
	}
}

func TestProcessCompletionFailure(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{err: errors.New("upstream down")}
	agent, _, _ := newTestAgent(client, nil)

	res := agent.Process(context.Background(), msg("hi"))
	if res.Success {
		t.Fatal("Process() succeeded despite completion failure")
	}
	if res.Text != Apology() {
		t.Errorf("failure text = %q, want apology", res.Text)
	}
	if res.Err == nil {
		t.Error("failure result has nil Err")
	}
}

func TestProcessEmptyMessage(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{}
	agent, _, _ := newTestAgent(client, nil)

	res := agent.Process(context.Background(), msg("   "))
	if !res.Success || res.Text != "" {
		t.Errorf("Process(blank) = %+v", res)
	}
	if len(client.calls) != 0 {
		t.Error("model called for blank message")
	}
}

func TestProcessModeReachesPrompt(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{replies: []string{"here is the code"}}
	agent, _, _ := newTestAgent(client, nil)

	res := agent.Process(context.Background(), msg("写一个 http 服务器"))
	if res.Mode != ModeCodeGeneration {
		t.Errorf("mode = %v, want code generation", res.Mode)
	}
	system := client.calls[0][0].Content
	if !strings.Contains(system, "runnable solution") {
		t.Errorf("system prompt missing code-generation hint")
	}
}
