// Package translate turns notebook code into dashboard code with a
// language model served over the OpenAI chat completions API.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/orangebricks/autodash/internal/framework"
	"github.com/orangebricks/autodash/internal/keychain"
)

var (
	// ErrUpstream reports a failed model call: bad credentials, network
	// trouble or an unusable response.
	ErrUpstream = errors.New("translation service failed")
	// ErrMissingCredentials reports that no API key could be found.
	ErrMissingCredentials = errors.New("missing API credentials")
)

// localAPIKey is sent to local servers that ignore authentication but
// still expect the header.
const localAPIKey = "local"

// Translator converts code into a dashboard script of the given kind.
type Translator interface {
	Translate(ctx context.Context, code string, kind framework.Kind) (string, error)
}

// Config holds the connection settings for the model API.
type Config struct {
	Model      string
	BaseURL    string // empty for the hosted OpenAI API
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls a chat completions endpoint.
type Client struct {
	api    openai.Client
	model  string
	logger *slog.Logger
}

// New creates a client. It fails with ErrMissingCredentials when cfg has no
// API key.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or run 'autodash secret set %s'", ErrMissingCredentials, keychain.OpenAIKey)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:    openai.NewClient(opts...),
		model:  cfg.Model,
		logger: slog.With("component", "translate", "model", cfg.Model),
	}, nil
}

// Translate asks the model to rewrite code as a dashboard of kind and
// returns the code with any Markdown fences removed.
func (c *Client) Translate(ctx context.Context, code string, kind framework.Kind) (string, error) {
	prompt, err := Prompt(kind, code)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("model call rejected", "status", apiErr.StatusCode, "error", err)
			return "", fmt.Errorf("%w: status %d: %w", ErrUpstream, apiErr.StatusCode, err)
		}
		c.logger.Warn("model call failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrUpstream)
	}

	out := StripFences(resp.Choices[0].Message.Content)
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	c.logger.Info("translated notebook", "kind", kind, "duration", time.Since(start).Truncate(time.Millisecond))
	return out, nil
}

// ResolveKey picks the API key: the configured value first, then lookup
// (typically the keychain). Local model servers get a placeholder when
// neither has one.
func ResolveKey(configured string, lookup func() (string, error), local bool) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if lookup != nil {
		key, err := lookup()
		switch {
		case err == nil && key != "":
			return key, nil
		case err != nil && !errors.Is(err, keychain.ErrNotFound):
			return "", fmt.Errorf("reading api key: %w", err)
		}
	}
	if local {
		return localAPIKey, nil
	}
	return "", fmt.Errorf("%w: set OPENAI_API_KEY or run 'autodash secret set %s'", ErrMissingCredentials, keychain.OpenAIKey)
}
