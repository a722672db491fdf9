// Package openai implements the explanation and keyword-mining ports directly
// against the OpenAI chat completions API, for deployments without the
// sidecar explainer service.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

const explainSystemPrompt = "You are a security assistant. You MUST only use the fields provided in the JSON. " +
	"Do not invent facts. If unsure, say 'I don't have enough information'."

// Explainer generates decision explanations with an OpenAI chat model.
type Explainer struct {
	client      *openai.Client
	modelName   string
	temperature float32
	logger      *zap.Logger
}

// NewExplainer creates an OpenAI-backed explainer.
func NewExplainer(apiKey, modelName string, temperature float32, logger *zap.Logger) *Explainer {
	return &Explainer{
		client:      openai.NewClient(apiKey),
		modelName:   modelName,
		temperature: temperature,
		logger:      logger,
	}
}

type explainOutput struct {
	Explanation string `json:"explanation"`
	UserPrompt  string `json:"user_prompt"`
}

// Explain sends the redacted payload and parses the model's JSON answer.
func (e *Explainer) Explain(ctx context.Context, req *core.ExplainRequest) (*core.Explanation, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode explain payload: %w", err)
	}

	prompt := "Return strict JSON with keys explanation and user_prompt. " +
		"Keep explanation to max 2-3 sentences and user_prompt one line.\n" +
		"INPUT_JSON:\n" + string(encoded)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: explainSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    e.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	var output explainOutput
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &output); err != nil {
		return nil, err
	}
	explanation := strings.TrimSpace(output.Explanation)
	if explanation == "" {
		return nil, fmt.Errorf("model returned empty explanation")
	}
	return &core.Explanation{
		Explanation: explanation,
		UserPrompt:  strings.TrimSpace(output.UserPrompt),
	}, nil
}

// unmarshalModelJSON parses a model answer, tolerating prose around the JSON
// object by falling back to the outermost brace span.
func unmarshalModelJSON(responseText string, out any) error {
	if err := json.Unmarshal([]byte(responseText), out); err == nil {
		return nil
	}

	jsonStart := strings.IndexByte(responseText, '{')
	jsonEnd := strings.LastIndexByte(responseText, '}')
	if jsonStart < 0 || jsonEnd < jsonStart {
		return fmt.Errorf("failed to extract JSON from model response")
	}
	if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd+1]), out); err != nil {
		return fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return nil
}
