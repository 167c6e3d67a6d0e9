package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/claim-comb/app/prompt"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 30 * time.Second
	temperature    = 0.2
)

var (
	ErrClassificationFailed = errors.New("classification failed")
	ErrModelUnavailable     = errors.New("no configured model is available")
)

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Version   string
	Fallbacks []string
	Discover  bool
	Timeout   time.Duration
}

type Client struct {
	config  Config
	handles *HandleCache
}

func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	c := &Client{config: config}
	c.handles = NewHandleCache(c.newHandle)
	return c
}

func (c *Client) Handles() *HandleCache {
	return c.handles
}

// Classify sends the prompt as a single chat completion and returns the raw
// content of the first choice.
func (c *Client) Classify(ctx context.Context, request prompt.Request) (string, error) {
	handle, err := c.handles.Get(ctx, c.config.Model, c.config.Version)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrClassificationFailed, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := handle.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: handle.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: request.System},
			{Role: openai.ChatMessageRoleUser, Content: request.User},
		},
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if isNotFound(err) {
			slog.Warn("Model not found, dropping cached handle", "model", handle.Model)
			c.handles.Invalidate(c.config.Model)
		}
		return "", fmt.Errorf("%w: model %s: %w", ErrClassificationFailed, handle.Model, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model %s returned no choices", ErrClassificationFailed, handle.Model)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: model %s returned empty content", ErrClassificationFailed, handle.Model)
	}

	slog.Debug("Classification completed", "model", handle.Model, "duration", time.Since(started), "tokens", resp.Usage.TotalTokens)

	return content, nil
}

func (c *Client) newHandle(ctx context.Context, name, version string) (*Handle, error) {
	clientConfig := openai.DefaultConfig(c.config.APIKey)
	if c.config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(c.config.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: c.config.Timeout}

	handle := &Handle{
		Name:    name,
		Version: version,
		Model:   name,
		client:  openai.NewClientWithConfig(clientConfig),
	}

	if !c.config.Discover {
		return handle, nil
	}

	model, err := c.discover(ctx, handle.client, name)
	if err != nil {
		return nil, err
	}
	handle.Model = model

	return handle, nil
}

// discover returns the configured model when the provider lists it, else
// the first listed fallback.
func (c *Client) discover(ctx context.Context, client *openai.Client, name string) (string, error) {
	listCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	list, err := client.ListModels(listCtx)
	if err != nil {
		return "", fmt.Errorf("failed to list models: %w", err)
	}

	available := make([]string, 0, len(list.Models))
	for _, model := range list.Models {
		available = append(available, model.ID)
	}

	candidates := append([]string{name}, c.config.Fallbacks...)
	for _, candidate := range candidates {
		if slices.Contains(available, candidate) {
			if candidate != name {
				slog.Warn("Configured model unavailable, using fallback", "model", name, "fallback", candidate)
			}
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrModelUnavailable, strings.Join(candidates, ", "))
}

func isNotFound(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
