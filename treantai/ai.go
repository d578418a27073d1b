package treantai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
)

const anthropicContentTypeText = "text"

var (
	ErrEmptyResponse   = errors.New("empty response")
	ErrUnknownProvider = errors.New("unknown AI provider")
)

// ChatBackend sends a single prompt to a conversational AI provider and
// returns the generated text
type ChatBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIResponse is the result of dispatching a prompt. On success, Text
// holds the generated response. On failure, Err describes what went wrong.
type AIResponse struct {
	Text string
	Err  error
}

// OK returns true if the response has text to deliver
func (r AIResponse) OK() bool {
	return r.Err == nil && r.Text != ""
}

func (r AIResponse) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int("length", runeLen(r.Text))}
	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// Dispatcher sends prompts to a ChatBackend. It never returns an error:
// failures are folded into the returned AIResponse, so callers handle
// both outcomes the same way.
type Dispatcher struct {
	backend ChatBackend
	logger  *slog.Logger
}

func newDispatcher(backend ChatBackend, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backend: backend, logger: logger}
}

// Ask sends the prompt to the backend and waits for the result
func (d *Dispatcher) Ask(ctx context.Context, prompt string) AIResponse {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = d.logger
	}

	start := time.Now()
	text, err := d.backend.Complete(ctx, prompt)
	if err == nil && text == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error generating response",
			tint.Err(err),
			"duration", time.Since(start),
		)
		return AIResponse{Err: fmt.Errorf("Oppss, something went wrong! %w", err)}
	}
	rv := AIResponse{Text: text}
	logger.InfoContext(
		ctx,
		"generated response",
		"response", rv,
		"duration", time.Since(start),
	)
	return rv
}

// newChatBackend returns the ChatBackend for the configured provider
func newChatBackend(config *AIConfig, httpClient *http.Client) (ChatBackend, error) {
	baseURL, err := aiBaseURL(config.Endpoint)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(config.Provider) {
	case AIProviderOpenAI, "":
		return newOpenAIBackend(config, baseURL, httpClient), nil
	case AIProviderAnthropic:
		return newAnthropicBackend(config, baseURL, httpClient), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}
}

// aiBaseURL returns the custom base URL for the given endpoint setting,
// or an empty string if the provider's public endpoint should be used
func aiBaseURL(endpoint string) (string, error) {
	endpoint = strings.ToLower(strings.TrimSpace(endpoint))
	if endpoint == "" || endpoint == AIEndpointDefault {
		return "", nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid AI endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid AI endpoint %q: scheme and host required", endpoint)
	}
	return endpoint, nil
}

type openAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newOpenAIBackend(
	config *AIConfig,
	baseURL string,
	httpClient *http.Client,
) *openAIBackend {
	clientCfg := openai.DefaultConfig(config.Token)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	model := config.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &openAIBackend{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: config.MaxTokens,
	}
}

func (o *openAIBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     o.model,
			MaxTokens: o.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicBackend struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func newAnthropicBackend(
	config *AIConfig,
	baseURL string,
	httpClient *http.Client,
) *anthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(config.Token)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	model := config.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAIMaxTokens
	}
	return &anthropicBackend{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}
}

func (a *anthropicBackend) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(
		ctx,
		anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		},
	)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == anthropicContentTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
