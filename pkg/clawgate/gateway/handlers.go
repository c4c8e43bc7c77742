package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/agent"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// sendMsgRequest is the outbound send API payload.
type sendMsgRequest struct {
	Platform string `json:"platform"`
	TargetID string `json:"target_id"`
	Type     string `json:"message_type"`
	Content  string `json:"content"`
}

// callbackRequest is what the agent wrapper posts when a deferred task
// finishes. SessionID is the callback routing identity; the legacy
// callback_session_id/message field names are accepted too.
type callbackRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`

	LegacySessionID string `json:"callback_session_id"`
	LegacyContent   string `json:"message"`
}

func (r *callbackRequest) normalize() (id, content string) {
	id, content = r.SessionID, r.Content
	if id == "" {
		id = r.LegacySessionID
	}
	if content == "" {
		content = r.LegacyContent
	}
	return id, content
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"channels": g.registry.Count(),
		"uptime":   time.Since(g.startedAt).Round(time.Second).String(),
	})
}

func (g *Gateway) handleSendMsg(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sendMsgRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Platform == "" || req.TargetID == "" || req.Content == "" {
		g.writeError(w, "platform, target_id and content are required", http.StatusBadRequest)
		return
	}

	msgType := channels.MessagePrivate
	if strings.EqualFold(req.Type, string(channels.MessageGroup)) {
		msgType = channels.MessageGroup
	}

	err := g.registry.Route(r.Context(), req.Platform, &channels.UnifiedSendRequest{
		ChatID:  req.TargetID,
		Content: req.Content,
		Type:    msgType,
	})
	if err != nil {
		g.logger.Warn("send_msg failed", "platform", req.Platform, "error", err)
		g.writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleCallback receives deferred task results and routes them back to
// the originating chat. Both the colon and the legacy underscore id
// grammars are accepted.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req callbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	id, content := req.normalize()
	if content == "" {
		g.writeError(w, "content is required", http.StatusBadRequest)
		return
	}

	target, err := agent.ParseCallbackID(id)
	if err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = g.registry.Route(r.Context(), target.Platform, &channels.UnifiedSendRequest{
		ChatID:  target.ChatID,
		Content: content,
		Type:    target.Type,
	})
	if err != nil {
		g.logger.Warn("callback delivery failed",
			"platform", target.Platform, "chat", target.ChatID, "error", err)
		g.writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	g.logger.Info("callback delivered", "platform", target.Platform, "chat", target.ChatID)
	g.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
