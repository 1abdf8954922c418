// Package scoring computes and classifies confidence for identity
// mappings. Two things live here: the fixed per-tier confidence table
// used by the resolution cascade, and the weighted community score used
// to judge contributed mappings.
package scoring

import "github.com/skeptomenos/prism/internal/domain"

// Per-tier confidence assigned by the cascade. The ordering is the
// contract: a higher tier never scores below a lower one.
const (
	ConfidenceProvider   = 1.0
	ConfidenceManual     = 1.0
	ConfidenceLocalCache = 0.95
	ConfidenceHive       = 0.90
	ConfidenceWikidata   = 0.80
	ConfidenceOpenFIGI   = 0.78
	ConfidenceFinnhub    = 0.75
	ConfidenceYFinance   = 0.70
)

// ContributionFloor is the minimum confidence at which an externally
// resolved mapping is pushed back to the community store.
const ContributionFloor = 0.50

// Verdict classifies a community score.
type Verdict string

const (
	VerdictAccept  Verdict = "accept"  // >= 0.80
	VerdictFlagged Verdict = "flagged" // 0.50 - 0.79, kept but marked for review
	VerdictReject  Verdict = "reject"  // < 0.50
)

// sourceReliability weights how much each origin is trusted when scoring
// a contributed mapping.
var sourceReliability = map[domain.Source]float64{
	domain.SourceProvider:   1.0,
	domain.SourceManual:     1.0,
	domain.SourceSeed:       0.95,
	domain.SourceLocalCache: 0.95,
	domain.SourceHive:       0.90,
	domain.SourceWikidata:   0.80,
	domain.SourceOpenFIGI:   0.78,
	domain.SourceFinnhub:    0.75,
	domain.SourceYFinance:   0.70,
	domain.SourceUser:       0.60,
}

// SourceReliability returns the trust weight for a source. Unknown
// sources score at the bottom of the table.
func SourceReliability(s domain.Source) float64 {
	if w, ok := sourceReliability[s]; ok {
		return w
	}
	return 0.50
}

// TierConfidence returns the cascade confidence for a source.
func TierConfidence(s domain.Source) float64 {
	switch s {
	case domain.SourceProvider:
		return ConfidenceProvider
	case domain.SourceManual:
		return ConfidenceManual
	case domain.SourceLocalCache:
		return ConfidenceLocalCache
	case domain.SourceHive:
		return ConfidenceHive
	case domain.SourceWikidata:
		return ConfidenceWikidata
	case domain.SourceOpenFIGI:
		return ConfidenceOpenFIGI
	case domain.SourceFinnhub:
		return ConfidenceFinnhub
	case domain.SourceYFinance:
		return ConfidenceYFinance
	default:
		return 0
	}
}

// Factors are the inputs to the community score, each in [0, 1] except
// SubmissionCount which is a raw count.
type Factors struct {
	SubmissionCount   int     // independent contributors backing the mapping
	SourceReliability float64 // trust weight of the best source
	Freshness         float64 // 1.0 for recent confirmations, decaying
	Consensus         float64 // fraction of submissions agreeing on the ISIN
}

// Scorer computes community scores. The corroboration threshold sets how
// many independent submissions count as full corroboration: 1 while the
// community is bootstrapping, 3 once it has grown.
type Scorer struct {
	corroborationThreshold int
}

// NewScorer creates a scorer. A threshold below 1 is treated as 1.
func NewScorer(corroborationThreshold int) *Scorer {
	if corroborationThreshold < 1 {
		corroborationThreshold = 1
	}
	return &Scorer{corroborationThreshold: corroborationThreshold}
}

// CorroborationThreshold returns the configured threshold.
func (s *Scorer) CorroborationThreshold() int {
	return s.corroborationThreshold
}

// Score combines the factors into one confidence value in [0, 1]:
// 40% corroboration, 30% source reliability, 20% freshness, 10% consensus.
func (s *Scorer) Score(f Factors) float64 {
	corroboration := float64(f.SubmissionCount) / float64(s.corroborationThreshold)
	if corroboration > 1 {
		corroboration = 1
	}

	return 0.40*corroboration + 0.30*f.SourceReliability + 0.20*f.Freshness + 0.10*f.Consensus
}

// Classify maps a score to a verdict.
func Classify(score float64) Verdict {
	switch {
	case score >= 0.80:
		return VerdictAccept
	case score >= 0.50:
		return VerdictFlagged
	default:
		return VerdictReject
	}
}
