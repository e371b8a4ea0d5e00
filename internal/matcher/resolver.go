package matcher

import (
	"sort"
	"time"

	"receipt-reconciliation-service/internal/classifier"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
	"receipt-reconciliation-service/pkg/logger"
)

// Assigner pairs receipts with external records. The greedy Resolver is the
// only implementation; a globally optimal one can sit behind the same
// interface.
type Assigner interface {
	Assign(req Request) *Assignment
}

// Pin forces a receipt onto the record with the given fingerprint
type Pin struct {
	ReceiptNumber string
	RecordKey     string
}

// Request is the input of one assignment run
type Request struct {
	// Receipts in aggregator order; processing follows this order
	Receipts []*models.Receipt

	// Records in input order; Index must equal the slice position
	Records []*models.ExternalRecord

	// RunDate, when set, excludes receipts from other calendar days
	RunDate *time.Time

	// Pins are manual overrides applied before the greedy pass
	Pins []Pin
}

// Assignment is the output of one assignment run. Matches and Exceptions are
// each in receipt order.
type Assignment struct {
	Matches    []*models.Match
	Exceptions []*models.Exception
	Stats      ResolverStats
}

// ResolverStats counts what happened during a run
type ResolverStats struct {
	Receipts      int `json:"receipts"`
	Records       int `json:"records"`
	Scored        int `json:"candidates_scored"`
	Claimed       int `json:"records_claimed"`
	PinsApplied   int `json:"pins_applied"`
	PinsUnmatched int `json:"pins_unmatched"`
}

// Resolver is the greedy single-pass assigner. It holds no run state; the
// claimed set lives inside each Assign call.
type Resolver struct {
	config *MatchingConfig
	scorer *Scorer
	logger logger.Logger
}

// NewResolver creates a resolver with the given configuration
func NewResolver(config *MatchingConfig) *Resolver {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &Resolver{
		config: config,
		scorer: NewScorer(config.Weights),
		logger: logger.GetGlobalLogger().WithComponent("resolver"),
	}
}

// Config returns the resolver's configuration
func (r *Resolver) Config() *MatchingConfig {
	return r.config
}

type outcome struct {
	match     *models.Match
	exception *models.Exception
}

// Assign runs the greedy pass. Each receipt ends in exactly one terminal
// state and no record is matched twice.
func (r *Resolver) Assign(req Request) *Assignment {
	index := NewRecordIndex(req.Records)
	claimed := make(ClaimSet)
	outcomes := make([]outcome, len(req.Receipts))
	stats := ResolverStats{Receipts: len(req.Receipts), Records: len(req.Records)}

	pinned := r.applyPins(req, index, claimed, outcomes, &stats)

	for i, receipt := range req.Receipts {
		if pinned[i] {
			continue
		}
		if req.RunDate != nil && !onRunDate(receipt, *req.RunDate) {
			outcomes[i].exception = &models.Exception{
				Type:       models.ExceptionWrongDate,
				Receipt:    receipt,
				Candidates: []models.CandidateScore{},
			}
			continue
		}

		pool := index.GetCandidates(receipt, claimed)
		ranked := r.scorer.Rank(receipt, pool)
		stats.Scored += len(ranked)

		switch {
		case len(ranked) == 0 || ranked[0].Score < r.config.MinScore:
			outcomes[i].exception = &models.Exception{
				Type:       models.ExceptionNoReturnFound,
				Receipt:    receipt,
				Candidates: head(ranked, r.config.NoMatchCandidates),
			}
		case r.isAmbiguous(ranked):
			outcomes[i].exception = &models.Exception{
				Type:       models.ExceptionAmbiguousMatch,
				Receipt:    receipt,
				Candidates: head(ranked, r.config.AmbiguousCandidates),
			}
		default:
			best := ranked[0]
			claimed[best.Record.Index] = true
			stats.Claimed++
			outcomes[i].match = r.newMatch(receipt, best.Record, best.Score, false)
		}

		r.logOutcome(receipt, outcomes[i], len(ranked))
	}

	assignment := &Assignment{Stats: stats}
	for _, o := range outcomes {
		if o.match != nil {
			assignment.Matches = append(assignment.Matches, o.match)
		}
		if o.exception != nil {
			assignment.Exceptions = append(assignment.Exceptions, o.exception)
		}
	}

	r.logger.WithFields(logger.Fields{
		"receipts":   stats.Receipts,
		"records":    stats.Records,
		"matched":    len(assignment.Matches),
		"exceptions": len(assignment.Exceptions),
		"pins":       stats.PinsApplied,
	}).Debug("Assignment finished")

	return assignment
}

// applyPins claims pinned records before any scoring so the greedy pass
// cannot hand them to another receipt. Pins whose record is absent are
// ignored and the receipt is resolved normally.
func (r *Resolver) applyPins(req Request, index *RecordIndex, claimed ClaimSet, outcomes []outcome, stats *ResolverStats) map[int]bool {
	pinned := make(map[int]bool)
	if len(req.Pins) == 0 {
		return pinned
	}

	keysByReceipt := make(map[string]string, len(req.Pins))
	for _, pin := range req.Pins {
		keysByReceipt[pin.ReceiptNumber] = pin.RecordKey
	}

	for i, receipt := range req.Receipts {
		key, ok := keysByReceipt[receipt.ReceiptNumber]
		if !ok {
			continue
		}
		if req.RunDate != nil && !onRunDate(receipt, *req.RunDate) {
			continue
		}
		rec := index.FirstUnclaimedByKey(key, claimed)
		if rec == nil {
			stats.PinsUnmatched++
			r.logger.WithFields(logger.Fields{
				"receipt":    receipt.ReceiptNumber,
				"record_key": key,
			}).Warn("Override record not present in this run")
			continue
		}

		claimed[rec.Index] = true
		pinned[i] = true
		stats.PinsApplied++
		stats.Claimed++
		outcomes[i].match = r.newMatch(receipt, rec, r.scorer.Score(receipt, rec), true)
	}
	return pinned
}

func (r *Resolver) isAmbiguous(ranked []models.CandidateScore) bool {
	if len(ranked) < 2 {
		return false
	}
	top, second := ranked[0].Score, ranked[1].Score
	return second >= top-r.config.AmbiguityGap && second >= r.config.MinScore
}

func (r *Resolver) newMatch(receipt *models.Receipt, rec *models.ExternalRecord, score int, overridden bool) *models.Match {
	class := classifier.Classify(rec.StatusRaw)
	confidence := r.config.Tier(score)
	if overridden {
		confidence = models.ConfidenceHigh
	}
	return &models.Match{
		Receipt:      receipt,
		Record:       rec,
		Score:        score,
		Confidence:   confidence,
		Issue:        class.Issue,
		StatusKind:   class.Kind,
		CodeMismatch: receipt.OwnerNormalized != rec.PreparerNormalized,
		Overridden:   overridden,
	}
}

func (r *Resolver) logOutcome(receipt *models.Receipt, o outcome, poolSize int) {
	fields := logger.Fields{
		"receipt": receipt.ReceiptNumber,
		"office":  receipt.OfficeCode,
		"pool":    poolSize,
	}
	switch {
	case o.match != nil:
		fields["record"] = o.match.Record.Index
		fields["score"] = o.match.Score
		r.logger.WithFields(fields).Debug("Receipt matched")
	case o.exception != nil:
		fields["type"] = o.exception.Type
		r.logger.WithFields(fields).Debug("Receipt excepted")
	}
}

func onRunDate(receipt *models.Receipt, runDate time.Time) bool {
	return receipt.DateTime != nil && normalize.SameDay(*receipt.DateTime, runDate)
}

func sortCandidates(candidates []models.CandidateScore) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Record.Index < candidates[j].Record.Index
	})
}

func head(ranked []models.CandidateScore, n int) []models.CandidateScore {
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]models.CandidateScore, n)
	copy(out, ranked[:n])
	return out
}
