// Package qq implements the QQ channel over the OneBot v11 HTTP API.
// Inbound events arrive as HTTP POSTs from the OneBot client; outbound
// messages call its /send_private_msg and /send_group_msg endpoints.
package qq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds QQ channel configuration.
type Config struct {
	// APIBase is the OneBot v11 HTTP API root, e.g. http://127.0.0.1:3000.
	APIBase string `yaml:"api_base"`

	// AccessToken authenticates both directions when the OneBot client is
	// configured with one. Empty disables the check.
	AccessToken string `yaml:"access_token"`

	// AllowedGroups restricts which group IDs the bot responds in. Empty
	// means respond in all groups.
	AllowedGroups []string `yaml:"allowed_groups"`
}

// QQ implements channels.Channel.
type QQ struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	handler    atomic.Value // channels.Handler
	started    atomic.Bool
}

// New creates a QQ channel instance.
func New(cfg Config, logger *slog.Logger) *QQ {
	if logger == nil {
		logger = slog.Default()
	}
	return &QQ{
		cfg:        cfg,
		logger:     logger.With("component", "qq"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "qq".
func (q *QQ) Name() string { return "qq" }

// SetHandler installs the inbound message handler.
func (q *QQ) SetHandler(h channels.Handler) {
	q.handler.Store(h)
}

// Start marks the channel live. Delivery is push-based: the OneBot client
// POSTs events to the webhook handler, so there is no connection to open.
func (q *QQ) Start(ctx context.Context) error {
	if q.cfg.APIBase == "" {
		return fmt.Errorf("qq: api_base is required")
	}
	q.started.Store(true)
	q.logger.Info("qq channel started", "api_base", q.cfg.APIBase)
	return nil
}

// Stop marks the channel stopped.
func (q *QQ) Stop() error {
	q.started.Store(false)
	q.logger.Info("qq channel stopped")
	return nil
}

// Send delivers a message via the OneBot send_private_msg or
// send_group_msg action.
func (q *QQ) Send(ctx context.Context, req *channels.UnifiedSendRequest) error {
	if !q.started.Load() {
		return channels.ErrChannelDisconnected
	}

	action := "send_private_msg"
	payload := map[string]any{"message": req.Content}
	if req.Type == channels.MessageGroup {
		action = "send_group_msg"
		payload["group_id"] = req.ChatID
	} else {
		payload["user_id"] = req.ChatID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("qq: encoding %s: %w", action, err)
	}

	url := strings.TrimRight(q.cfg.APIBase, "/") + "/" + action
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("qq: building %s request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if q.cfg.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+q.cfg.AccessToken)
	}

	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: qq %s: %v", channels.ErrSendFailed, action, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: qq %s returned status %d: %s",
			channels.ErrSendFailed, action, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var apiResp struct {
		Status  string `json:"status"`
		RetCode int    `json:"retcode"`
	}
	if err := json.Unmarshal(data, &apiResp); err == nil && apiResp.Status == "failed" {
		return fmt.Errorf("%w: qq %s retcode %d", channels.ErrSendFailed, action, apiResp.RetCode)
	}
	return nil
}

// event is the subset of the OneBot v11 message event the gateway needs.
// Message content arrives either as raw CQ-code text or as a segment array
// depending on the client's message_format setting.
type event struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	UserID      json.Number     `json:"user_id"`
	GroupID     json.Number     `json:"group_id"`
	RawMessage  string          `json:"raw_message"`
	Message     json.RawMessage `json:"message"`
	Time        int64           `json:"time"`
}

// WebhookHandler returns the HTTP handler the OneBot client posts events
// to. Non-message events are acknowledged and dropped.
func (q *QQ) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if q.cfg.AccessToken != "" && !validToken(r, q.cfg.AccessToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var ev event
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&ev); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// The client expects a fast 200; processing continues after.
		w.WriteHeader(http.StatusOK)

		if ev.PostType != "message" {
			return
		}
		msg, ok := q.toUnified(&ev)
		if !ok {
			return
		}
		h, _ := q.handler.Load().(channels.Handler)
		if h == nil {
			q.logger.Warn("qq event dropped, no handler installed")
			return
		}
		go h(context.Background(), msg)
	})
}

func (q *QQ) toUnified(ev *event) (*channels.UnifiedMessage, bool) {
	content, images := flattenSegments(ev.Message)
	if content == "" {
		content = ev.RawMessage
	}
	content = strings.TrimSpace(content)
	if content == "" && len(images) == 0 {
		return nil, false
	}

	msgType := channels.MessagePrivate
	chatID := ev.UserID.String()
	if ev.MessageType == "group" {
		msgType = channels.MessageGroup
		chatID = ev.GroupID.String()
		if !q.groupAllowed(chatID) {
			return nil, false
		}
	}

	msg := channels.NewUnifiedMessage("qq", ev.UserID.String(), chatID, msgType, content)
	msg.Images = images
	if ev.Time > 0 {
		msg.Timestamp = time.Unix(ev.Time, 0)
	}
	msg.Raw = map[string]any{"message_type": ev.MessageType}
	return msg, true
}

func (q *QQ) groupAllowed(groupID string) bool {
	if len(q.cfg.AllowedGroups) == 0 {
		return true
	}
	for _, id := range q.cfg.AllowedGroups {
		if id == groupID {
			return true
		}
	}
	return false
}

// flattenSegments joins the text segments of an array-format message and
// collects image segment URLs.
func flattenSegments(raw json.RawMessage) (text string, images []string) {
	if len(raw) == 0 {
		return "", nil
	}
	var segments []struct {
		Type string `json:"type"`
		Data struct {
			Text string `json:"text"`
			URL  string `json:"url"`
			File string `json:"file"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &segments); err != nil {
		// Plain string form.
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s, nil
		}
		return "", nil
	}
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Type {
		case "text":
			b.WriteString(seg.Data.Text)
		case "image":
			ref := seg.Data.URL
			if ref == "" {
				ref = seg.Data.File
			}
			if ref != "" {
				images = append(images, ref)
			}
		}
	}
	return b.String(), images
}

func validToken(r *http.Request, token string) bool {
	auth := r.Header.Get("Authorization")
	if strings.TrimPrefix(auth, "Bearer ") == token {
		return true
	}
	// Some OneBot clients pass the token as a query parameter.
	return r.URL.Query().Get("access_token") == token
}
