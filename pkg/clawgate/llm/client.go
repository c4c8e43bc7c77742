// client.go implements the LLM client for chat completions using the
// OpenAI-compatible API format, which works with OpenAI, OpenRouter,
// DeepSeek, GLM (api.z.ai), Ollama, and any compatible endpoint.
package llm

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

// DefaultRequestTimeout bounds a single chat completion call. The gateway
// performs no retry; a slow provider surfaces as an apology to the user.
const DefaultRequestTimeout = 120 * time.Second

// Options configures the HTTP client.
type Options struct {
	// BaseURL is the provider endpoint (e.g. "https://openrouter.ai/api/v1").
	BaseURL string

	// APIKey authenticates against the provider.
	APIKey string

	// Model is the model identifier sent with every request.
	Model string

	// Temperature is the sampling temperature; zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length; zero lets the server decide.
	MaxTokens int

	// Timeout overrides DefaultRequestTimeout when positive.
	Timeout time.Duration
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL    string
	provider   string
	apiKey     string
	model      string
	temp       float64
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates an LLM client from options.
func NewHTTPClient(opts Options, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	provider := detectProvider(baseURL)

	return &HTTPClient{
		baseURL:   baseURL,
		provider:  provider,
		apiKey:    opts.APIKey,
		model:     opts.Model,
		temp:      opts.Temperature,
		maxTokens: opts.MaxTokens,
		timeout:   timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		logger: logger.With("component", "llm", "provider", provider),
	}
}

// detectProvider infers the provider from the base URL, for logging and
// error messages only; the wire format is the same either way.
func detectProvider(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "openrouter.ai"):
		return "openrouter"
	case strings.Contains(baseURL, "deepseek.com"):
		return "deepseek"
	case strings.Contains(baseURL, "z.ai"):
		return "zai"
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "localhost:11434"),
		strings.Contains(baseURL, "127.0.0.1:11434"),
		strings.Contains(baseURL, "ollama"):
		return "ollama"
	default:
		return "openai" // assume OpenAI-compatible
	}
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string { return c.model }

// Provider returns the detected provider name.
func (c *HTTPClient) Provider() string { return c.provider }

// ---------- Wire Types (OpenAI-compatible) ----------

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Error Classification ----------

// ErrorKind classifies API errors for logging and user-facing messaging.
type ErrorKind int

const (
	ErrorRetryable ErrorKind = iota // transient 5xx
	ErrorRateLimit                  // 429
	ErrorAuth                       // 401, 403
	ErrorContext                    // context length exceeded
	ErrorFatal                      // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorAuth:
		return "auth"
	case ErrorContext:
		return "context"
	default:
		return "fatal"
	}
}

// APIError captures the HTTP status and body of a failed provider call.
type APIError struct {
	StatusCode int
	Kind       ErrorKind
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d (%s): %s", e.StatusCode, e.Kind, truncate(e.Body, 200))
}

func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") {
		return ErrorContext
	}
	switch {
	case statusCode == 429:
		return ErrorRateLimit
	case statusCode == 401 || statusCode == 403:
		return ErrorAuth
	case statusCode >= 500:
		return ErrorRetryable
	default:
		return ErrorFatal
	}
}

// ---------- Public Methods ----------

// Complete sends one chat completion request and returns the response text.
// No automatic retry: transient failures surface to the caller, which
// converts them into a user-visible apology.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if c.temp > 0 {
		t := c.temp
		reqBody.Temperature = &t
	}
	if c.maxTokens > 0 {
		m := c.maxTokens
		reqBody.MaxTokens = &m
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", c.model,
		"messages", len(messages),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		apierr := &APIError{
			StatusCode: resp.StatusCode,
			Kind:       classifyAPIError(resp.StatusCode, bodyStr),
			Body:       bodyStr,
		}
		c.logger.Error("API error",
			"model", c.model,
			"status", resp.StatusCode,
			"kind", apierr.Kind.String(),
			"body", truncate(bodyStr, 500),
		)
		return "", apierr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w (body: %s)", err, truncate(bodyStr, 200))
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("API response has no choices (body: %s)", truncate(bodyStr, 200))
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.logger.Info("chat completion done",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
		"finish_reason", parsed.Choices[0].FinishReason,
	)
	return content, nil
}

// truncate shortens a string for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
