// Package gemini implements the explanation port against Google Gemini.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// Explainer generates decision explanations with a Gemini model.
type Explainer struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	logger    *zap.Logger
}

// NewExplainer creates a Gemini-backed explainer.
func NewExplainer(apiKey, modelName string, maxTokens int, temperature float32, logger *zap.Logger) (*Explainer, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"

	return &Explainer{
		client:    client,
		model:     model,
		modelName: modelName,
		logger:    logger,
	}, nil
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

	prompt := "You are a security assistant explaining why an outbound message was flagged. " +
		"Use only the fields in the JSON below, do not invent facts. " +
		"Return strict JSON with keys explanation and user_prompt; " +
		"keep explanation to max 2-3 sentences and user_prompt one line.\n" +
		"INPUT_JSON:\n" + string(encoded)

	resp, err := e.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	var output explainOutput
	if err := unmarshalModelJSON(responseText.String(), &output); err != nil {
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

// Close releases the underlying API client.
func (e *Explainer) Close() error {
	return e.client.Close()
}

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
