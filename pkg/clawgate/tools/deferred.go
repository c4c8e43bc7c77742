package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultDeferredTimeout bounds one wrapper round trip. The wrapper is
// expected to answer (or switch to callback mode) within five minutes.
const DefaultDeferredTimeout = 300 * time.Second

// DeferredRequest is the payload posted to the agent wrapper.
type DeferredRequest struct {
	Message           string `json:"message"`
	SessionID         string `json:"session_id"`
	CallbackSessionID string `json:"callback_session_id"`
}

// DeferredResponse is the wrapper's reply. IsCallbackMode true means the
// wrapper will deliver the real result later through the callback endpoint
// and Reply is only an acknowledgment.
type DeferredResponse struct {
	Reply          string `json:"reply"`
	IsCallbackMode bool   `json:"is_callback_mode"`
}

// Notifier delivers a deferred task's outcome back to the originating chat.
type Notifier func(ctx context.Context, callbackSessionID, text string)

// DeferredRunner hands tasks to an external agent wrapper over HTTP and
// pushes the outcome through a notifier.
type DeferredRunner struct {
	client     *http.Client
	wrapperURL string
	notify     Notifier
	supervisor *Supervisor
	logger     *slog.Logger
}

// NewDeferredRunner wires a runner against the wrapper URL. A nil notifier
// drops outcomes, which only makes sense in tests.
func NewDeferredRunner(wrapperURL string, notify Notifier, supervisor *Supervisor, logger *slog.Logger) *DeferredRunner {
	return &DeferredRunner{
		client:     &http.Client{Timeout: DefaultDeferredTimeout},
		wrapperURL: strings.TrimRight(wrapperURL, "/"),
		notify:     notify,
		supervisor: supervisor,
		logger:     logger.With("component", "deferred"),
	}
}

// Enabled reports whether a wrapper URL is configured.
func (r *DeferredRunner) Enabled() bool {
	return r.wrapperURL != ""
}

// Dispatch starts the task in the background and returns immediately with
// the acknowledgment text shown to the user. The eventual result (or an
// apology on failure) arrives via the notifier.
func (r *DeferredRunner) Dispatch(task, sessionID, callbackSessionID string) string {
	id := r.supervisor.Go("deferred", func(ctx context.Context) error {
		return r.run(ctx, task, sessionID, callbackSessionID)
	})
	r.logger.Info("deferred task dispatched", "task_id", id, "session", sessionID)
	return "收到，这个任务我在后台处理，完成后会回复你。"
}

func (r *DeferredRunner) run(ctx context.Context, task, sessionID, callbackSessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultDeferredTimeout)
	defer cancel()

	resp, err := r.post(ctx, DeferredRequest{
		Message:           task,
		SessionID:         sessionID,
		CallbackSessionID: callbackSessionID,
	})
	if err != nil {
		r.logger.Error("deferred task failed", "session", sessionID, "error", err)
		if r.notify != nil {
			r.notify(context.Background(), callbackSessionID, "刚才那个后台任务出错了，抱歉。你可以再试一次。")
		}
		return err
	}

	// In callback mode the wrapper delivers the real result itself later;
	// pushing the interim reply here would double-message the chat.
	if resp.IsCallbackMode {
		r.logger.Info("deferred task running in callback mode", "session", sessionID)
		return nil
	}
	if r.notify != nil && resp.Reply != "" {
		r.notify(context.Background(), callbackSessionID, resp.Reply)
	}
	return nil
}

func (r *DeferredRunner) post(ctx context.Context, payload DeferredRequest) (*DeferredResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding deferred request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.wrapperURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building deferred request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting deferred task: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading wrapper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wrapper returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out DeferredResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding wrapper response: %w", err)
	}
	return &out, nil
}
