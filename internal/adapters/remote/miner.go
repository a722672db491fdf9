package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/httpx"
)

var errEmptyExplanation = errors.New("explanation service returned empty explanation")

// Miner calls a remote keyword extraction service. Mining is best-effort:
// every failure path returns an empty result so a broken miner never fails a
// baseline build.
type Miner struct {
	baseURL string
	client  *httpx.Client
	logger  *zap.Logger
}

// NewMiner creates a remote miner rooted at baseURL.
func NewMiner(baseURL string, client *httpx.Client, logger *zap.Logger) *Miner {
	return &Miner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

type extractRequest struct {
	Messages []string `json:"messages"`
}

// The service may report counts as {"term": n}, ["term", ...] or
// [{"term": ..., "count": n}, ...] depending on the model run, so the raw
// value is kept opaque until normalization.
type extractResponse struct {
	Topics map[string]struct {
		Keywords json.RawMessage `json:"keywords"`
		Phrases  json.RawMessage `json:"phrases"`
	} `json:"topics"`
}

// Extract posts a message batch and normalizes the response into term counts.
func (m *Miner) Extract(ctx context.Context, messages []string) core.MinedTerms {
	if len(messages) == 0 {
		return core.MinedTerms{}
	}

	var resp extractResponse
	if err := m.client.PostJSON(ctx, m.baseURL+"/v1/keywords/extract", extractRequest{Messages: messages}, &resp); err != nil {
		m.logger.Warn("Keyword mining failed", zap.Error(err))
		return core.MinedTerms{}
	}

	mined := make(core.MinedTerms, len(resp.Topics))
	for topic, payload := range resp.Topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		mined[topic] = core.TermCounts{
			Keywords: normalizeCounts(payload.Keywords),
			Phrases:  normalizeCounts(payload.Phrases),
		}
	}
	return mined
}

// normalizeCounts folds the three tolerated shapes into a lowercase
// term-to-count map, dropping blanks and non-positive counts.
func normalizeCounts(raw json.RawMessage) map[string]int {
	result := map[string]int{}
	if len(raw) == 0 {
		return result
	}

	var asMap map[string]json.Number
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for term, number := range asMap {
			addCount(result, term, toInt(number))
		}
		return result
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err != nil {
		return result
	}
	for _, item := range asList {
		var term string
		if err := json.Unmarshal(item, &term); err == nil {
			addCount(result, term, 1)
			continue
		}
		var entry struct {
			Term  string      `json:"term"`
			Count json.Number `json:"count"`
		}
		if err := json.Unmarshal(item, &entry); err == nil {
			count := toInt(entry.Count)
			if entry.Count == "" {
				count = 1
			}
			addCount(result, entry.Term, count)
		}
	}
	return result
}

func addCount(result map[string]int, term string, count int) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || count <= 0 {
		return
	}
	result[term] += count
}

func toInt(number json.Number) int {
	value, err := strconv.Atoi(string(number))
	if err != nil {
		return 0
	}
	return value
}
