package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

const minerSystemPrompt = "You extract keyword and phrase frequencies from message arrays. " +
	"Return only strict JSON. Use lowercase terms and integer counts. " +
	"Do not include commentary."

// Miner extracts keyword frequencies with an OpenAI chat model. Failures are
// logged and reported as an empty result, keeping mining best-effort.
type Miner struct {
	client      *openai.Client
	modelName   string
	temperature float32
	logger      *zap.Logger
}

// NewMiner creates an OpenAI-backed keyword miner.
func NewMiner(apiKey, modelName string, temperature float32, logger *zap.Logger) *Miner {
	return &Miner{
		client:      openai.NewClient(apiKey),
		modelName:   modelName,
		temperature: temperature,
		logger:      logger,
	}
}

type minerOutput struct {
	Topics map[string]struct {
		Keywords map[string]int `json:"keywords"`
		Phrases  map[string]int `json:"phrases"`
	} `json:"topics"`
}

// Extract mines one message batch.
func (m *Miner) Extract(ctx context.Context, messages []string) core.MinedTerms {
	if len(messages) == 0 {
		return core.MinedTerms{}
	}

	encoded, err := json.Marshal(messages)
	if err != nil {
		m.logger.Warn("Failed to encode mining batch", zap.Error(err))
		return core.MinedTerms{}
	}

	prompt := "Extract important keywords and multi-word phrases from these messages grouped by topic. " +
		"Allowed topics: hr_compensation, finance, legal, customer_data, credentials_secrets, technical, normal. " +
		`Return strict JSON with shape: {"topics":{"<topic>":{"keywords":{"term":count},"phrases":{"term":count}}}}. ` +
		"Use lowercase, no extra keys, and counts must be positive integers.\n" +
		"MESSAGES_JSON:\n" + string(encoded)

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: minerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    m.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		m.logger.Warn("Keyword mining completion failed", zap.Error(err))
		return core.MinedTerms{}
	}
	if len(resp.Choices) == 0 {
		m.logger.Warn("Keyword mining returned no choices")
		return core.MinedTerms{}
	}

	var output minerOutput
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &output); err != nil {
		m.logger.Warn("Keyword mining returned unparseable JSON", zap.Error(err))
		return core.MinedTerms{}
	}

	mined := make(core.MinedTerms, len(output.Topics))
	for topic, payload := range output.Topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		mined[topic] = core.TermCounts{
			Keywords: cleanCounts(payload.Keywords),
			Phrases:  cleanCounts(payload.Phrases),
		}
	}
	return mined
}

func cleanCounts(raw map[string]int) map[string]int {
	out := map[string]int{}
	for term, count := range raw {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || count <= 0 {
			continue
		}
		out[term] += count
	}
	return out
}
