// Package remote implements the explanation and keyword-mining ports against
// a sidecar HTTP service.
package remote

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/httpx"
)

// Explainer calls a remote explanation service. Any failure is reported as an
// error so the caller can fall back to the deterministic template.
type Explainer struct {
	baseURL string
	client  *httpx.Client
	logger  *zap.Logger
}

// NewExplainer creates a remote explainer rooted at baseURL.
func NewExplainer(baseURL string, client *httpx.Client, logger *zap.Logger) *Explainer {
	return &Explainer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

type explainResponse struct {
	Explanation string `json:"explanation"`
	UserPrompt  string `json:"user_prompt"`
}

// Explain posts the redacted payload and returns the generated text. An empty
// explanation counts as a failure.
func (e *Explainer) Explain(ctx context.Context, req *core.ExplainRequest) (*core.Explanation, error) {
	var resp explainResponse
	if err := e.client.PostJSON(ctx, e.baseURL+"/v1/explain", req, &resp); err != nil {
		return nil, err
	}

	explanation := strings.TrimSpace(resp.Explanation)
	if explanation == "" {
		return nil, errEmptyExplanation
	}
	return &core.Explanation{
		Explanation: explanation,
		UserPrompt:  strings.TrimSpace(resp.UserPrompt),
	}, nil
}
