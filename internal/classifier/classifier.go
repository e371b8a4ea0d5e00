// Package classifier maps an external record's free-text status onto an
// operational issue for a matched receipt.
package classifier

import (
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
)

// Classification is the outcome of classifying one status string
type Classification struct {
	Kind  models.StatusKind
	Issue models.Issue
	Raw   string
}

// Recognized reports whether the status matched a known pattern
func (c Classification) Recognized() bool {
	return c.Kind != models.StatusUnrecognized
}

// Classify derives the issue for a status. Unfamiliar statuses are kept as
// StatusUnrecognized with no issue; the raw text is always preserved.
func Classify(status string) Classification {
	folded := normalize.Status(status)
	c := Classification{Raw: status, Kind: models.StatusUnrecognized, Issue: models.IssueNone}

	switch {
	case strings.Contains(folded, "rejected"):
		c.Kind, c.Issue = models.StatusRejected, models.IssueNeedsCorrection
	case folded == "in progress":
		c.Kind, c.Issue = models.StatusInProgress, models.IssueNotTransmitted
	case folded == "complete":
		c.Kind, c.Issue = models.StatusComplete, models.IssueNotTransmitted
	case strings.Contains(folded, "accepted"):
		c.Kind = models.StatusAccepted
	case strings.Contains(folded, "transmitted"):
		c.Kind = models.StatusTransmitted
	case strings.Contains(folded, "paper"):
		c.Kind = models.StatusPaper
	}
	return c
}
