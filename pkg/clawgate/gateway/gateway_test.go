package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

type recordingChannel struct {
	name string
	sent []*channels.UnifiedSendRequest
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Start(context.Context) error { return nil }

func (c *recordingChannel) Stop() error { return nil }

func (c *recordingChannel) SetHandler(channels.Handler) {}
func (c *recordingChannel) Send(_ context.Context, req *channels.UnifiedSendRequest) error {
	c.sent = append(c.sent, req)
	return nil
}

func newTestGateway(token string) (*Gateway, *recordingChannel) {
	reg := channels.NewRegistry(slog.Default())
	ch := &recordingChannel{name: "qq"}
	reg.Register(ch)
	return New(Config{AuthToken: token}, reg, slog.Default()), ch
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway("secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out map[string]any
	json.NewDecoder(rec.Body).Decode(&out)
	if out["status"] != "ok" {
		t.Errorf("health body = %v", out)
	}
}

func TestSendMsgRequiresAuth(t *testing.T) {
	t.Parallel()
	gw, ch := newTestGateway("secret")
	body := `{"platform":"qq","target_id":"42","message_type":"private","content":"hi"}`

	req := httptest.NewRequest(http.MethodPost, "/send_msg", strings.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/send_msg", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(ch.sent) != 1 || ch.sent[0].ChatID != "42" || ch.sent[0].Type != channels.MessagePrivate {
		t.Errorf("sent = %+v", ch.sent)
	}
}

func TestSendMsgValidation(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway("")
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing fields", `{"platform":"qq"}`, http.StatusBadRequest},
		{"bad json", `{not json`, http.StatusBadRequest},
		{"unknown platform", `{"platform":"telegram","target_id":"1","content":"x"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/send_msg", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCallbackRoutesBothIDGrammars(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		idField  string
		msgField string
		id       string
		wantChat string
		wantType channels.MessageType
	}{
		{"colon grammar", "session_id", "content", "qq:group:777", "777", channels.MessageGroup},
		{"legacy underscore id", "session_id", "content", "qq_private_42", "42", channels.MessagePrivate},
		{"two part default private", "session_id", "content", "qq:42", "42", channels.MessagePrivate},
		{"legacy field names", "callback_session_id", "message", "qq:group:777", "777", channels.MessageGroup},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw, ch := newTestGateway("")
			body, _ := json.Marshal(map[string]string{
				tt.idField:  tt.id,
				tt.msgField: "task finished",
			})
			req := httptest.NewRequest(http.MethodPost, "/api/clawdbot/callback", strings.NewReader(string(body)))
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if len(ch.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(ch.sent))
			}
			if ch.sent[0].ChatID != tt.wantChat || ch.sent[0].Type != tt.wantType {
				t.Errorf("delivered to chat %q type %q", ch.sent[0].ChatID, ch.sent[0].Type)
			}
			if ch.sent[0].Content != "task finished" {
				t.Errorf("content = %q", ch.sent[0].Content)
			}
		})
	}
}

func TestCallbackRejectsMalformedID(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway("")
	body := `{"session_id":"nonsense","content":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/clawdbot/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhooksBypassAuth(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway("secret")
	gw.MountWebhook("qq", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/qq/event", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("webhook status without token = %d, want 200", rec.Code)
	}
}
