package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ChatCompleter is the slice of the OpenAI client the steps use. The real
// *openai.Client satisfies it; tests substitute a canned implementation.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Runner executes one LLM call per step invocation and decodes the reply.
// It is shared by all steps; steps themselves hold no mutable state.
type Runner struct {
	client ChatCompleter
	model  string
	logger *logrus.Logger
}

// NewRunner creates a runner bound to a chat client and model
func NewRunner(client ChatCompleter, model string, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{client: client, model: model, logger: logger}
}

func (r *Runner) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// runStep is the shared call-decode-fallback path. The decode is strict: an
// unusable reply yields the step's documented safe default, tagged Degraded,
// never an error.
func runStep[T any](ctx context.Context, r *Runner, name, system, prompt string, fallback T) Result[T] {
	content, err := r.complete(ctx, system, prompt)
	if err != nil {
		r.logger.WithError(err).WithField("step", name).Warn("analysis step call failed, using safe default")
		return degraded(fallback, fmt.Sprintf("llm call failed: %v", err))
	}

	blob, found := extractJSON(content)
	if !found {
		r.logger.WithField("step", name).Warn("no JSON object in model output, using safe default")
		return degraded(fallback, "no JSON object in model output")
	}

	var out T
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		r.logger.WithError(err).WithField("step", name).Warn("malformed model output, using safe default")
		return degraded(fallback, fmt.Sprintf("malformed model output: %v", err))
	}

	return ok(out)
}

// extractJSON pulls the outermost JSON object out of a model reply that may
// wrap it in prose or code fences.
func extractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return s, true
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}

	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

func marshalForPrompt(v interface{}) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(payload)
}
