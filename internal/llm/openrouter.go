// Package llm holds the external text-generation collaborators: an
// OpenRouter chat-completions client, the persona replier used for AI chats,
// and the autopilot collaborator that simulates whole conversations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "deepseek/deepseek-chat"
	appTitle       = "Auras Dating App"
)

var (
	// ErrNoAPIKey is returned by Chat when no API key is configured.
	ErrNoAPIKey = errors.New("llm: no api key configured")
	// ErrEmptyCompletion is returned when the provider answers without content.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.Code, e.Body)
}

// Config configures the OpenRouter client. It is read from OPENROUTER_*
// environment variables by LoadConfig.
type Config struct {
	APIKey     string        `envconfig:"API_KEY"`
	BaseURL    string        `envconfig:"BASE_URL" default:"https://openrouter.ai/api/v1"`
	Model      string        `envconfig:"MODEL" default:"deepseek/deepseek-chat"`
	Referer    string        `envconfig:"REFERER" default:"http://localhost:5173"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"30s"`
	RPS        float64       `envconfig:"RPS" default:"2"`
	Burst      int           `envconfig:"BURST" default:"4"`
	MaxRetries int           `envconfig:"MAX_RETRIES" default:"2"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("OPENROUTER", &c); err != nil {
		return Config{}, fmt.Errorf("llm: load config: %w", err)
	}
	return c, nil
}

// Enabled reports whether a remote provider is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

// Message is one chat-completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single completion.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// Completer produces one completion for a message list.
type Completer interface {
	Chat(ctx context.Context, msgs []Message, opts ChatOptions) (string, error)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenRouterClient calls the OpenRouter chat-completions API.
type OpenRouterClient struct {
	cfg     Config
	client  *resty.Client
	limiter *rate.Limiter
}

// NewOpenRouterClient builds a client. Requests that receive 429 or a 5xx
// are retried with resty's backoff; all requests share a token-bucket limit.
func NewOpenRouterClient(cfg Config) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Title", appTitle).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	if cfg.Referer != "" {
		c.SetHeader("HTTP-Referer", cfg.Referer)
	}

	return &OpenRouterClient{
		cfg:     cfg,
		client:  c,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}
}

// Model returns the configured model id.
func (c *OpenRouterClient) Model() string { return c.cfg.Model }

// Chat sends msgs and returns the first choice's content.
func (c *OpenRouterClient) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (string, error) {
	if !c.cfg.Enabled() {
		return "", ErrNoAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&body).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("llm: request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}

	var cr chatResponse
	if err := json.Unmarshal(resp.Body(), &cr); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return cr.Choices[0].Message.Content, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
