// Package server exposes the pre-send check and its supporting operations
// over HTTP, and hosts the service logic shared with the SMTP gate.
package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/baseline"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/explain"
	"github.com/mikey/misdelivery-guard/internal/scoring"
)

// explainTimeout bounds one explanation call; past it the deterministic
// template answers instead.
const explainTimeout = 2 * time.Second

// Service runs the pre-send check: score the draft against the sender's
// baseline, then attach an explanation. It also serves the SMTP gate, which
// only needs the scoring half.
type Service struct {
	scorer    *scoring.Scorer
	store     *baseline.Store
	explainer core.Explainer
	logger    *zap.Logger
}

// NewService creates the check service. explainer may be nil; the
// deterministic fallback text is used for every decision then.
func NewService(scorer *scoring.Scorer, store *baseline.Store, explainer core.Explainer, logger *zap.Logger) *Service {
	return &Service{
		scorer:    scorer,
		store:     store,
		explainer: explainer,
		logger:    logger,
	}
}

// Check scores a draft against the sender's current baseline profile.
func (s *Service) Check(_ context.Context, draft *core.Draft) *core.ScoringResult {
	profile := s.store.GetSenderProfile(draft.SenderUserID)
	return s.scorer.Evaluate(draft, profile)
}

// Explain produces the user-facing text for a scoring result. ALLOW decisions
// get the fixed no-risk sentence; for WARN and BLOCK the configured
// collaborator is asked first and the deterministic template answers when it
// fails or is absent.
func (s *Service) Explain(ctx context.Context, result *core.ScoringResult) (explanation, userPrompt string) {
	if result.Decision == core.DecisionAllow {
		return explain.AllowExplanation, ""
	}

	if s.explainer != nil {
		ctx, cancel := context.WithTimeout(ctx, explainTimeout)
		defer cancel()

		generated, err := s.explainer.Explain(ctx, explain.BuildRequest(result))
		if err == nil && generated != nil {
			return generated.Explanation, generated.UserPrompt
		}
		s.logger.Warn("Explanation call failed, using fallback template", zap.Error(err))
	}

	return explain.Fallback(result.Reasons)
}
