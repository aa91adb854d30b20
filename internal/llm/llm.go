package llm

import (
	"context"
	"fmt"
	"strings"
)

const defaultMaxTokens = 8192

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	maxTokens   int64
	temperature *float64
	jsonOutput  bool
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the completion length. Zero keeps the provider default
// (8192 for the Messages API, which requires one).
func WithMaxTokens(n int64) Option {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

func WithTemperature(t float64) Option {
	return func(o *clientOptions) {
		o.temperature = &t
	}
}

// WithJSONOutput asks providers that support it to reply with a single JSON
// object. The Messages API has no such mode and ignores it.
func WithJSONOutput() Option {
	return func(o *clientOptions) {
		o.jsonOutput = true
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// NeedsAPIKey reports whether provider authenticates with an API key rather
// than ambient cloud credentials.
func NeedsAPIKey(provider string) bool {
	return provider != "bedrock"
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "bedrock":
		return newBedrockClient(model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, bedrock, gemini", provider)
	}
}
