package nlu

import (
	"context"

	"slotline/internal/domain"
	"slotline/internal/metrics"
	"slotline/internal/models"

	"github.com/rs/zerolog"
)

// ResilientClassifier fronts the NLU service with the rules classifier and
// applies the confidence floor: low-confidence results are demoted to
// UNCLEAR so the orchestrator asks for clarification instead of acting on
// a shaky guess.
type ResilientClassifier struct {
	primary       domain.Classifier
	fallback      domain.Classifier
	minConfidence float64
	logger        *zerolog.Logger
}

func NewResilientClassifier(primary, fallback domain.Classifier, minConfidence float64, logger *zerolog.Logger) *ResilientClassifier {
	return &ResilientClassifier{
		primary:       primary,
		fallback:      fallback,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

func (c *ResilientClassifier) Classify(ctx context.Context, body string, history []models.Turn, presented []models.PresentedSlot, currentState string) (*models.IntentResult, error) {
	res, err := c.primary.Classify(ctx, body, history, presented, currentState)
	if err != nil {
		c.logger.Warn().Err(err).Str("state", currentState).Msg("NLU service failed, using rules classifier")
		metrics.IncClassifierFallback()
		res, err = c.fallback.Classify(ctx, body, history, presented, currentState)
		if err != nil {
			return nil, err
		}
	}

	if res.Intent != models.IntentUnclear && res.Confidence < c.minConfidence {
		res.Intent = models.IntentUnclear
		res.ResolvedSlotID = ""
	}
	return res, nil
}
