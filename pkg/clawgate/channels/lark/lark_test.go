package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// newPlatformStub serves the token and message endpoints of the Open
// Platform API.
func newPlatformStub(t *testing.T, tokenCalls *atomic.Int64, sent *[]map[string]string, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/auth/v3/tenant_access_token/internal":
			tokenCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"code": 0, "tenant_access_token": fmt.Sprintf("t-%d", tokenCalls.Load()), "expire": 7200,
			})
		case "/open-apis/im/v1/messages":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			body["receive_id_type"] = r.URL.Query().Get("receive_id_type")
			body["authorization"] = r.Header.Get("Authorization")
			mu.Lock()
			*sent = append(*sent, body)
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"code": 0})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSendUsesCachedToken(t *testing.T) {
	t.Parallel()
	var tokenCalls atomic.Int64
	var sent []map[string]string
	var mu sync.Mutex
	srv := newPlatformStub(t, &tokenCalls, &sent, &mu)
	defer srv.Close()

	ch := New(Config{AppID: "app", AppSecret: "secret", BaseURL: srv.URL}, slog.Default())
	ctx := context.Background()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		err := ch.Send(ctx, &channels.UnifiedSendRequest{
			ChatID: "oc_abc", Content: "hello", Type: channels.MessageGroup,
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	// One fetch at Start, no refetch per send.
	if tokenCalls.Load() != 1 {
		t.Errorf("token fetched %d times, want 1", tokenCalls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	if sent[0]["receive_id_type"] != "chat_id" || sent[0]["receive_id"] != "oc_abc" {
		t.Errorf("group send = %+v", sent[0])
	}
	if sent[0]["authorization"] != "Bearer t-1" {
		t.Errorf("authorization = %q", sent[0]["authorization"])
	}
}

func TestSendPrivateUsesOpenID(t *testing.T) {
	t.Parallel()
	var tokenCalls atomic.Int64
	var sent []map[string]string
	var mu sync.Mutex
	srv := newPlatformStub(t, &tokenCalls, &sent, &mu)
	defer srv.Close()

	ch := New(Config{AppID: "app", AppSecret: "secret", BaseURL: srv.URL}, slog.Default())
	ctx := context.Background()
	if err := ch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	err := ch.Send(ctx, &channels.UnifiedSendRequest{
		ChatID: "ou_user1", Content: "hi", Type: channels.MessagePrivate,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sent[0]["receive_id_type"] != "open_id" {
		t.Errorf("receive_id_type = %q, want open_id", sent[0]["receive_id_type"])
	}
}

func TestWebhookURLVerification(t *testing.T) {
	t.Parallel()
	ch := New(Config{AppID: "app", AppSecret: "secret", VerificationToken: "vt"}, slog.Default())

	body := `{"type":"url_verification","challenge":"abc123","token":"vt"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/lark", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)

	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["challenge"] != "abc123" {
		t.Errorf("challenge = %q", out["challenge"])
	}

	// Wrong token is rejected.
	req = httptest.NewRequest(http.MethodPost, "/webhook/lark",
		strings.NewReader(`{"type":"url_verification","challenge":"x","token":"wrong"}`))
	rec = httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func messageEvent(eventID, chatType, text string) string {
	content, _ := json.Marshal(map[string]string{"text": text})
	env := map[string]any{
		"header": map[string]any{
			"event_id":   eventID,
			"event_type": "im.message.receive_v1",
			"token":      "vt",
		},
		"event": map[string]any{
			"sender": map[string]any{
				"sender_type": "user",
				"sender_id":   map[string]any{"open_id": "ou_user1"},
			},
			"message": map[string]any{
				"message_id":   "om_1",
				"chat_id":      "oc_room",
				"chat_type":    chatType,
				"message_type": "text",
				"content":      string(content),
			},
		},
	}
	data, _ := json.Marshal(env)
	return string(data)
}

func TestWebhookDeliversMessage(t *testing.T) {
	t.Parallel()
	ch := New(Config{AppID: "app", AppSecret: "secret", VerificationToken: "vt"}, slog.Default())

	var mu sync.Mutex
	var got *channels.UnifiedMessage
	ch.SetHandler(func(_ context.Context, msg *channels.UnifiedMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = msg
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/lark",
		strings.NewReader(messageEvent("ev1", "p2p", "hello @_user_1 bot")))
	rec := httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := got != nil
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("message not delivered")
	}
	if got.Platform != "lark" || got.UserID != "ou_user1" {
		t.Errorf("identity = %+v", got)
	}
	// p2p routes replies to the sender's open id, mention stripped.
	if got.Type != channels.MessagePrivate || got.ChatID != "ou_user1" {
		t.Errorf("routing = type %q chat %q", got.Type, got.ChatID)
	}
	if got.Content != "hello  bot" && got.Content != "hello bot" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestWebhookDeduplicatesEvents(t *testing.T) {
	t.Parallel()
	ch := New(Config{AppID: "app", AppSecret: "secret", VerificationToken: "vt"}, slog.Default())

	var count atomic.Int64
	ch.SetHandler(func(context.Context, *channels.UnifiedMessage) { count.Add(1) })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/lark",
			strings.NewReader(messageEvent("same-event", "group", "hi")))
		rec := httptest.NewRecorder()
		ch.WebhookHandler().ServeHTTP(rec, req)
	}

	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("handler invoked %d times for redelivered event, want 1", count.Load())
	}
}

func TestStripMentions(t *testing.T) {
	t.Parallel()
	if got := stripMentions("@_user_1 hello @_user_23 world"); got != " hello  world" {
		t.Errorf("stripMentions() = %q", got)
	}
	if got := stripMentions("no mentions"); got != "no mentions" {
		t.Errorf("stripMentions() = %q", got)
	}
}
