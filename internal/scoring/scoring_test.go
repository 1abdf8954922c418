package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skeptomenos/prism/internal/domain"
)

func TestScoreFullCorroboration(t *testing.T) {
	s := NewScorer(3)

	score := s.Score(Factors{
		SubmissionCount:   3,
		SourceReliability: 1.0,
		Freshness:         1.0,
		Consensus:         1.0,
	})
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScoreCorroborationSaturates(t *testing.T) {
	s := NewScorer(3)

	at3 := s.Score(Factors{SubmissionCount: 3, SourceReliability: 0.8})
	at9 := s.Score(Factors{SubmissionCount: 9, SourceReliability: 0.8})
	assert.InDelta(t, at3, at9, 1e-9, "extra submissions beyond the threshold add nothing")
}

func TestScoreBootstrapThreshold(t *testing.T) {
	s := NewScorer(1)

	// A single submission from a reliable source scores full corroboration.
	score := s.Score(Factors{SubmissionCount: 1, SourceReliability: 0.80, Freshness: 1.0, Consensus: 1.0})
	assert.InDelta(t, 0.40+0.24+0.20+0.10, score, 1e-9)
}

func TestScoreWeights(t *testing.T) {
	s := NewScorer(2)

	score := s.Score(Factors{
		SubmissionCount:   1, // half corroboration
		SourceReliability: 0.75,
		Freshness:         0.5,
		Consensus:         1.0,
	})
	assert.InDelta(t, 0.40*0.5+0.30*0.75+0.20*0.5+0.10*1.0, score, 1e-9)
}

func TestNewScorerClampsThreshold(t *testing.T) {
	s := NewScorer(0)
	assert.Equal(t, 1, s.CorroborationThreshold())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, VerdictAccept, Classify(0.80))
	assert.Equal(t, VerdictAccept, Classify(0.95))
	assert.Equal(t, VerdictFlagged, Classify(0.79))
	assert.Equal(t, VerdictFlagged, Classify(0.50))
	assert.Equal(t, VerdictReject, Classify(0.49))
	assert.Equal(t, VerdictReject, Classify(0))
}

func TestTierConfidenceOrdering(t *testing.T) {
	order := []domain.Source{
		domain.SourceProvider,
		domain.SourceManual,
		domain.SourceLocalCache,
		domain.SourceHive,
		domain.SourceWikidata,
		domain.SourceOpenFIGI,
		domain.SourceFinnhub,
		domain.SourceYFinance,
	}

	for i := 1; i < len(order); i++ {
		assert.GreaterOrEqual(t,
			TierConfidence(order[i-1]), TierConfidence(order[i]),
			"%s must not score below %s", order[i-1], order[i])
	}

	assert.Equal(t, 0.0, TierConfidence(domain.SourceUnresolved))
}

func TestSourceReliabilityUnknown(t *testing.T) {
	assert.Equal(t, 0.50, SourceReliability(domain.Source("mystery")))
	assert.Equal(t, 0.80, SourceReliability(domain.SourceWikidata))
}
