package qq

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWebhookPrivateMessage(t *testing.T) {
	t.Parallel()
	ch := New(Config{APIBase: "http://localhost:3000"}, slog.Default())

	var mu sync.Mutex
	var got *channels.UnifiedMessage
	ch.SetHandler(func(_ context.Context, msg *channels.UnifiedMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = msg
	})

	body := `{"post_type":"message","message_type":"private","user_id":12345,"raw_message":"hello bot","time":1756360000}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/qq", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if got.Platform != "qq" || got.UserID != "12345" || got.ChatID != "12345" {
		t.Errorf("message identity = %+v", got)
	}
	if got.Type != channels.MessagePrivate || got.Content != "hello bot" {
		t.Errorf("message body = %+v", got)
	}
}

func TestWebhookGroupMessageAndAllowlist(t *testing.T) {
	t.Parallel()
	ch := New(Config{APIBase: "http://localhost:3000", AllowedGroups: []string{"777"}}, slog.Default())

	var mu sync.Mutex
	var msgs []*channels.UnifiedMessage
	ch.SetHandler(func(_ context.Context, msg *channels.UnifiedMessage) {
		mu.Lock()
		defer mu.Unlock()
		msgs = append(msgs, msg)
	})

	send := func(body string) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/qq", strings.NewReader(body))
		rec := httptest.NewRecorder()
		ch.WebhookHandler().ServeHTTP(rec, req)
	}
	send(`{"post_type":"message","message_type":"group","user_id":1,"group_id":777,"raw_message":"in allowed group"}`)
	send(`{"post_type":"message","message_type":"group","user_id":1,"group_id":888,"raw_message":"in blocked group"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if msgs[0].Type != channels.MessageGroup || msgs[0].ChatID != "777" {
		t.Errorf("group message = %+v", msgs[0])
	}
	if msgs[0].UserID != "1" {
		t.Errorf("group sender = %q, want user id, not group id", msgs[0].UserID)
	}
}

func TestWebhookIgnoresNonMessageEvents(t *testing.T) {
	t.Parallel()
	ch := New(Config{APIBase: "http://localhost:3000"}, slog.Default())
	called := false
	ch.SetHandler(func(context.Context, *channels.UnifiedMessage) { called = true })

	body := `{"post_type":"meta_event","meta_event_type":"heartbeat"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/qq", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)

	time.Sleep(20 * time.Millisecond)
	if called {
		t.Error("handler called for heartbeat event")
	}
}

func TestWebhookRejectsBadToken(t *testing.T) {
	t.Parallel()
	ch := New(Config{APIBase: "http://localhost:3000", AccessToken: "secret"}, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/webhook/qq", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/qq", strings.NewReader(`{"post_type":"message"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rec.Code)
	}
}

func TestSendPicksActionByType(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "retcode": 0})
	}))
	defer srv.Close()

	ch := New(Config{APIBase: srv.URL}, slog.Default())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := ch.Send(ctx, &channels.UnifiedSendRequest{ChatID: "42", Content: "hi", Type: channels.MessagePrivate}); err != nil {
		t.Fatalf("Send(private) error = %v", err)
	}
	if err := ch.Send(ctx, &channels.UnifiedSendRequest{ChatID: "777", Content: "hi", Type: channels.MessageGroup}); err != nil {
		t.Fatalf("Send(group) error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/send_private_msg" || paths[1] != "/send_group_msg" {
		t.Errorf("actions = %v", paths)
	}
}

func TestFlattenSegments(t *testing.T) {
	t.Parallel()
	raw := json.RawMessage(`[{"type":"at","data":{"qq":"123"}},{"type":"text","data":{"text":"hello "}},{"type":"image","data":{"url":"https://img.example/1.png"}},{"type":"text","data":{"text":"world"}}]`)
	text, images := flattenSegments(raw)
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if len(images) != 1 || images[0] != "https://img.example/1.png" {
		t.Errorf("images = %v", images)
	}

	text, images = flattenSegments(json.RawMessage(`"plain string"`))
	if text != "plain string" || images != nil {
		t.Errorf("flattenSegments(string) = %q, %v", text, images)
	}
}
