// Package lark implements the Lark (Feishu) channel over the Open Platform
// HTTP API. Inbound messages arrive as event callbacks; outbound messages
// go through im/v1/messages with a cached tenant access token.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds Lark channel configuration.
type Config struct {
	// AppID and AppSecret identify the Lark application.
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	// VerificationToken validates event callbacks when set.
	VerificationToken string `yaml:"verification_token"`

	// BaseURL overrides the Open Platform root, for the Feishu vs Lark
	// split or for tests.
	BaseURL string `yaml:"base_url"`
}

const defaultBaseURL = "https://open.feishu.cn"

// tokenSlack renews the tenant access token this long before expiry.
const tokenSlack = 5 * time.Minute

// Lark implements channels.Channel.
type Lark struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	handler    atomic.Value // channels.Handler
	started    atomic.Bool

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	// seen deduplicates event ids; Lark redelivers on slow responses.
	seen   map[string]time.Time
	seenMu sync.Mutex
}

// New creates a Lark channel instance.
func New(cfg Config, logger *slog.Logger) *Lark {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Lark{
		cfg:        cfg,
		logger:     logger.With("component", "lark"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		seen:       make(map[string]time.Time),
	}
}

// Name returns "lark".
func (l *Lark) Name() string { return "lark" }

// SetHandler installs the inbound message handler.
func (l *Lark) SetHandler(h channels.Handler) {
	l.handler.Store(h)
}

// Start validates credentials by fetching an initial access token.
func (l *Lark) Start(ctx context.Context) error {
	if l.cfg.AppID == "" || l.cfg.AppSecret == "" {
		return fmt.Errorf("lark: app_id and app_secret are required")
	}
	if _, err := l.accessToken(ctx); err != nil {
		return fmt.Errorf("lark: initial token fetch: %w", err)
	}
	l.started.Store(true)
	l.logger.Info("lark channel started", "app_id", l.cfg.AppID)
	return nil
}

// Stop marks the channel stopped.
func (l *Lark) Stop() error {
	l.started.Store(false)
	l.logger.Info("lark channel stopped")
	return nil
}

// Send delivers a text message through im/v1/messages. ChatID chooses the
// receive id type: open_id for p2p targets, chat_id otherwise.
func (l *Lark) Send(ctx context.Context, req *channels.UnifiedSendRequest) error {
	if !l.started.Load() {
		return channels.ErrChannelDisconnected
	}
	token, err := l.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: lark token: %v", channels.ErrSendFailed, err)
	}

	receiveIDType := "chat_id"
	if req.Type == channels.MessagePrivate && strings.HasPrefix(req.ChatID, "ou_") {
		receiveIDType = "open_id"
	}

	content, err := json.Marshal(map[string]string{"text": req.Content})
	if err != nil {
		return fmt.Errorf("lark: encoding content: %w", err)
	}
	body, err := json.Marshal(map[string]string{
		"receive_id": req.ChatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	if err != nil {
		return fmt.Errorf("lark: encoding message: %w", err)
	}

	url := l.cfg.BaseURL + "/open-apis/im/v1/messages?receive_id_type=" + receiveIDType
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("lark: building send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: lark send: %v", channels.ErrSendFailed, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var apiResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return fmt.Errorf("%w: lark send: decoding response: %v", channels.ErrSendFailed, err)
	}
	if apiResp.Code != 0 {
		return fmt.Errorf("%w: lark send: code %d: %s", channels.ErrSendFailed, apiResp.Code, apiResp.Msg)
	}
	return nil
}

// accessToken returns a valid tenant access token, renewing when the
// cached one is within tokenSlack of expiry.
func (l *Lark) accessToken(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" && time.Now().Before(l.tokenExpiry.Add(-tokenSlack)) {
		return l.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     l.cfg.AppID,
		"app_secret": l.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.cfg.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if out.Code != 0 {
		return "", fmt.Errorf("token request failed: code %d: %s", out.Code, out.Msg)
	}

	l.token = out.TenantAccessToken
	l.tokenExpiry = time.Now().Add(time.Duration(out.Expire) * time.Second)
	return l.token, nil
}

// callbackEnvelope covers both the url_verification handshake and the
// event 2.0 schema.
type callbackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`

	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
			SenderType string `json:"sender_type"`
		} `json:"sender"`
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			ChatType    string `json:"chat_type"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

// WebhookHandler returns the HTTP handler Lark posts event callbacks to.
// It answers url_verification challenges and forwards im.message.receive_v1
// events to the installed handler.
func (l *Lark) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var env callbackEnvelope
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&env); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		if env.Type == "url_verification" {
			if l.cfg.VerificationToken != "" && env.Token != l.cfg.VerificationToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
			return
		}

		if l.cfg.VerificationToken != "" && env.Header.Token != l.cfg.VerificationToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)

		if env.Header.EventType != "im.message.receive_v1" {
			return
		}
		if env.Event.Sender.SenderType != "user" {
			return
		}
		if l.duplicate(env.Header.EventID) {
			return
		}

		msg, ok := l.toUnified(&env)
		if !ok {
			return
		}
		h, _ := l.handler.Load().(channels.Handler)
		if h == nil {
			l.logger.Warn("lark event dropped, no handler installed")
			return
		}
		go h(context.Background(), msg)
	})
}

func (l *Lark) toUnified(env *callbackEnvelope) (*channels.UnifiedMessage, bool) {
	if env.Event.Message.MessageType != "text" {
		return nil, false
	}
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(env.Event.Message.Content), &content); err != nil {
		return nil, false
	}
	text := strings.TrimSpace(stripMentions(content.Text))
	if text == "" {
		return nil, false
	}

	msgType := channels.MessageGroup
	chatID := env.Event.Message.ChatID
	if env.Event.Message.ChatType == "p2p" {
		msgType = channels.MessagePrivate
		chatID = env.Event.Sender.SenderID.OpenID
	}

	msg := channels.NewUnifiedMessage("lark", env.Event.Sender.SenderID.OpenID, chatID, msgType, text)
	msg.Raw = map[string]any{
		"message_id": env.Event.Message.MessageID,
		"chat_type":  env.Event.Message.ChatType,
	}
	return msg, true
}

// duplicate records the event id and reports whether it was seen recently.
func (l *Lark) duplicate(eventID string) bool {
	if eventID == "" {
		return false
	}
	l.seenMu.Lock()
	defer l.seenMu.Unlock()

	now := time.Now()
	if t, ok := l.seen[eventID]; ok && now.Sub(t) < 10*time.Minute {
		return true
	}
	l.seen[eventID] = now
	// Opportunistic cleanup keeps the map bounded without a timer.
	if len(l.seen) > 1000 {
		for id, t := range l.seen {
			if now.Sub(t) > 10*time.Minute {
				delete(l.seen, id)
			}
		}
	}
	return false
}

// stripMentions removes @_user_N placeholders Lark injects for mentions.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "@_user_")
		if start < 0 {
			return text
		}
		end := start + len("@_user_")
		for end < len(text) && text[end] >= '0' && text[end] <= '9' {
			end++
		}
		text = text[:start] + text[end:]
	}
}
