// Package provider wraps optional text-generation backends. A nil Provider
// is a supported configuration: callers fall back to local construction.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNotConfigured is returned when no backend is available.
var ErrNotConfigured = errors.New("text generation provider not configured")

// Request is one completion request.
type Request struct {
	// Operation labels the caller for logs and metrics ("questions", "narrative").
	Operation string
	System    string
	Prompt    string
	// JSON asks the backend for a JSON object response.
	JSON      bool
	MaxTokens int
	// Validate, when set, rejects completions the caller cannot use. Rejected
	// completions are returned but never cached.
	Validate func(text string) error
}

// Provider completes prompts.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

func (f Func) Name() string { return "func" }

// DecodeJSON extracts the first JSON object from a model response, repairs
// common syntax damage and decodes it into v.
func DecodeJSON(text string, v any) error {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start == -1 || end <= start {
		return errors.New("no JSON object in response")
	}
	body = body[start : end+1]
	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return fmt.Errorf("repair response json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode response json: %w", err)
	}
	return nil
}
