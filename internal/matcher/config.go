// Package matcher provides the candidate scorer and the assignment resolver
// that pair receipts with external records.
//
// Matching is a single greedy pass:
//  1. Candidate selection through an office index (records of other offices
//     are never scored)
//  2. Additive scoring on office, last name, first name and preparer
//  3. Threshold and ambiguity checks on the ranked pool
//  4. Claiming of the winning record so no later receipt can take it
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.MinScore = 75
//
//	resolver := matcher.NewResolver(config)
//	assignment := resolver.Assign(matcher.Request{
//		Receipts: receipts,
//		Records:  records,
//		RunDate:  &day,
//	})
package matcher

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"receipt-reconciliation-service/internal/models"
)

// MatchingConfig holds the thresholds used by the resolver. Strict and
// relaxed presets shift MinScore and AmbiguityGap; the scoring table is
// shared.
type MatchingConfig struct {
	// MinScore is the lowest top score that can produce a match
	MinScore int `json:"min_score" mapstructure:"min_score" toml:"min_score" validate:"min=0"`

	// AmbiguityGap is how close the runner-up may come to the top score
	// before the receipt is reported as ambiguous
	AmbiguityGap int `json:"ambiguity_gap" mapstructure:"ambiguity_gap" toml:"ambiguity_gap" validate:"min=0"`

	// NoMatchCandidates caps the candidate list of a NoReturnFound exception
	NoMatchCandidates int `json:"no_match_candidates" mapstructure:"no_match_candidates" toml:"no_match_candidates" validate:"min=0,max=100"`

	// AmbiguousCandidates caps the candidate list of an AmbiguousMatch exception
	AmbiguousCandidates int `json:"ambiguous_candidates" mapstructure:"ambiguous_candidates" toml:"ambiguous_candidates" validate:"min=2,max=100"`

	// HighConfidenceScore and MediumConfidenceScore bound the confidence tiers
	HighConfidenceScore   int `json:"high_confidence_score" mapstructure:"high_confidence_score" toml:"high_confidence_score" validate:"gtefield=MediumConfidenceScore"`
	MediumConfidenceScore int `json:"medium_confidence_score" mapstructure:"medium_confidence_score" toml:"medium_confidence_score" validate:"gtefield=MinScore"`

	Weights ScoringWeights `json:"weights" mapstructure:"weights" toml:"weights"`
}

// ScoringWeights are the additive points awarded by the scorer
type ScoringWeights struct {
	Office           int `json:"office" mapstructure:"office" toml:"office" validate:"min=0"`
	LastNameExact    int `json:"last_name_exact" mapstructure:"last_name_exact" toml:"last_name_exact" validate:"min=0"`
	LastNameInRecord int `json:"last_name_in_record" mapstructure:"last_name_in_record" toml:"last_name_in_record" validate:"min=0"`
	RecordInLastName int `json:"record_in_last_name" mapstructure:"record_in_last_name" toml:"record_in_last_name" validate:"min=0"`
	FirstNameExact   int `json:"first_name_exact" mapstructure:"first_name_exact" toml:"first_name_exact" validate:"min=0"`
	FirstNameInitial int `json:"first_name_initial" mapstructure:"first_name_initial" toml:"first_name_initial" validate:"min=0"`
	PreparerIsOwner  int `json:"preparer_is_owner" mapstructure:"preparer_is_owner" toml:"preparer_is_owner" validate:"min=0"`
}

// DefaultScoringWeights returns the standard point table
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Office:           50,
		LastNameExact:    40,
		LastNameInRecord: 25,
		RecordInLastName: 20,
		FirstNameExact:   20,
		FirstNameInitial: 10,
		PreparerIsOwner:  10,
	}
}

// DefaultMatchingConfig returns the standard thresholds
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MinScore:              70,
		AmbiguityGap:          5,
		NoMatchCandidates:     8,
		AmbiguousCandidates:   10,
		HighConfidenceScore:   100,
		MediumConfidenceScore: 85,
		Weights:               DefaultScoringWeights(),
	}
}

// StrictMatchingConfig demands an exact surname plus office before matching
// and widens the ambiguity window
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.MinScore = 90
	config.AmbiguityGap = 10
	config.MediumConfidenceScore = 90
	return config
}

// RelaxedMatchingConfig accepts office plus partial surname matches
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.MinScore = 60
	config.AmbiguityGap = 3
	return config
}

// ConfigForPreset resolves a named preset
func ConfigForPreset(name string) (*MatchingConfig, error) {
	switch name {
	case "", "default":
		return DefaultMatchingConfig(), nil
	case "strict":
		return StrictMatchingConfig(), nil
	case "relaxed":
		return RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching preset %q: must be default, strict or relaxed", name)
	}
}

var validate = validator.New()

// Validate checks the thresholds and weights
func (mc *MatchingConfig) Validate() error {
	if err := validate.Struct(mc); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("invalid matching config: %s failed %q (value %v)", ve.Namespace(), ve.Tag(), ve.Value())
		}
		return fmt.Errorf("invalid matching config: %w", err)
	}
	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// Tier maps a score onto a confidence tier
func (mc *MatchingConfig) Tier(score int) models.ConfidenceTier {
	switch {
	case score >= mc.HighConfidenceScore:
		return models.ConfidenceHigh
	case score >= mc.MediumConfidenceScore:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{MinScore: %d, AmbiguityGap: %d, Tiers: %d/%d}",
		mc.MinScore, mc.AmbiguityGap, mc.HighConfidenceScore, mc.MediumConfidenceScore)
}
