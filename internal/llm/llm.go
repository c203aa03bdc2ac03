// Package llm provides provider-neutral completion clients for the AI
// analysis backend.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/pitchlens/pitchlens/internal/fault"
)

// Request is one completion call: a model id, a token budget, a temperature,
// a system instruction, and a single user prompt.
type Request struct {
	Model       string
	MaxTokens   int
	Temperature float32
	System      string
	Prompt      string
}

// Response carries the completion text and usage token counts used to
// estimate cost.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// ParseModel splits "provider/model_name" into its parts.
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// modelName strips the provider prefix from a configured model id. Provider
// APIs only accept the bare name; an unprefixed id passes through unchanged.
func modelName(model string) string {
	if _, name, err := ParseModel(model); err == nil {
		return name
	}
	return model
}

func NewClient(provider, apiKey string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, o)
	case "anthropic":
		return newAnthropicClient(apiKey, o)
	case "gemini":
		return newGeminiClient(apiKey, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// classifyStatus maps an HTTP status from a provider into the shared error
// taxonomy. Statuses with no mapping pass the error through unclassified,
// which the queue treats as transient.
func classifyStatus(status int, err error) error {
	switch {
	case status == 401 || status == 403:
		return fault.New(fault.AuthFailed, err)
	case status == 402:
		return fault.New(fault.QuotaExceeded, err)
	case status == 429:
		return fault.New(fault.RateLimit, err)
	default:
		return err
	}
}
