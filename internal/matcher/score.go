package matcher

import (
	"fmt"
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
)

// ScoreBreakdown itemises the points a candidate earned
type ScoreBreakdown struct {
	Office    int
	LastName  int
	FirstName int
	Preparer  int
	Reasons   []string
}

// Total returns the summed score
func (sb ScoreBreakdown) Total() int {
	return sb.Office + sb.LastName + sb.FirstName + sb.Preparer
}

// Scorer computes receipt/record affinity. The score is a ranking signal,
// not a probability.
type Scorer struct {
	Weights ScoringWeights
}

// NewScorer creates a scorer with the given weights
func NewScorer(weights ScoringWeights) *Scorer {
	return &Scorer{Weights: weights}
}

var defaultScorer = NewScorer(DefaultScoringWeights())

// Score rates a candidate with the default weights
func Score(receipt *models.Receipt, record *models.ExternalRecord) int {
	return defaultScorer.Score(receipt, record)
}

// Score returns the total affinity of record for receipt
func (s *Scorer) Score(receipt *models.Receipt, record *models.ExternalRecord) int {
	return s.Explain(receipt, record).Total()
}

// Explain scores a candidate and records why each component was awarded
func (s *Scorer) Explain(receipt *models.Receipt, record *models.ExternalRecord) ScoreBreakdown {
	var sb ScoreBreakdown
	w := s.Weights

	if receipt.OfficeCode != "" && receipt.OfficeCode == record.OfficeCode {
		sb.Office = w.Office
		sb.Reasons = append(sb.Reasons, fmt.Sprintf("office %s", record.OfficeCode))
	}

	rl, cl := receipt.LastName, record.LastName
	if rl != "" && cl != "" {
		switch {
		case rl == cl:
			sb.LastName = w.LastNameExact
			sb.Reasons = append(sb.Reasons, "last name exact")
		case strings.Contains(cl, rl):
			sb.LastName = w.LastNameInRecord
			sb.Reasons = append(sb.Reasons, fmt.Sprintf("last name %q within %q", rl, cl))
		case strings.Contains(rl, cl):
			sb.LastName = w.RecordInLastName
			sb.Reasons = append(sb.Reasons, fmt.Sprintf("last name %q contains %q", rl, cl))
		}
	}

	rf, cf := receipt.FirstName, record.FirstName
	if rf != "" && cf != "" {
		switch {
		case rf == cf:
			sb.FirstName = w.FirstNameExact
			sb.Reasons = append(sb.Reasons, "first name exact")
		case strings.HasPrefix(cf, normalize.Initial(rf)):
			sb.FirstName = w.FirstNameInitial
			sb.Reasons = append(sb.Reasons, "first initial")
		}
	}

	if receipt.OwnerNormalized != "" && receipt.OwnerNormalized == record.PreparerNormalized {
		sb.Preparer = w.PreparerIsOwner
		sb.Reasons = append(sb.Reasons, "preparer is owner")
	}

	return sb
}

// Rank scores every record and sorts them by descending score. Ties keep
// input order (ascending Index).
func (s *Scorer) Rank(receipt *models.Receipt, records []*models.ExternalRecord) []models.CandidateScore {
	ranked := make([]models.CandidateScore, 0, len(records))
	for _, rec := range records {
		ranked = append(ranked, models.CandidateScore{Record: rec, Score: s.Score(receipt, rec)})
	}
	sortCandidates(ranked)
	return ranked
}
