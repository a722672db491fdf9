// Package bedrock implements the explanation port against Amazon Bedrock
// runtime models.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// Explainer generates decision explanations with a Bedrock-hosted model. The
// request payload shape depends on the model family.
type Explainer struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewExplainer creates a Bedrock-backed explainer.
func NewExplainer(client *bedrockruntime.Client, modelID string, maxTokens int, temperature float32, logger *zap.Logger) *Explainer {
	return &Explainer{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

type explainOutput struct {
	Explanation string `json:"explanation"`
	UserPrompt  string `json:"user_prompt"`
}

// Explain invokes the model with the redacted payload and parses its JSON
// answer.
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

	payload, err := e.buildPayload(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &e.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	responseText, err := e.extractText(resp.Body)
	if err != nil {
		return nil, err
	}

	var output explainOutput
	if err := unmarshalModelJSON(responseText, &output); err != nil {
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

// buildPayload shapes the request for the model family.
func (e *Explainer) buildPayload(prompt string) ([]byte, error) {
	if e.isAnthropicModel() {
		return json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": e.maxTokens,
			"temperature":          e.temperature,
		})
	}
	if e.isAmazonTitanModel() {
		return json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": e.maxTokens,
				"temperature":   e.temperature,
			},
		})
	}
	return json.Marshal(map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  e.maxTokens,
		"temperature": e.temperature,
	})
}

// extractText pulls the completion text out of the family-specific response
// envelope.
func (e *Explainer) extractText(body []byte) (string, error) {
	if e.isAnthropicModel() {
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return claudeResp.Completion, nil
	}
	if e.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
	}
	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	}
	return string(body), nil
}

func (e *Explainer) isAnthropicModel() bool {
	return strings.HasPrefix(e.modelID, "anthropic.claude")
}

func (e *Explainer) isAmazonTitanModel() bool {
	return strings.HasPrefix(e.modelID, "amazon.titan")
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
