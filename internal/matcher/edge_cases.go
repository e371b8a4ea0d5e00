package matcher

import (
	"fmt"
	"sort"

	"receipt-reconciliation-service/internal/models"
)

// EdgeCaseHandler inspects inputs for situations that predictably end in
// exceptions, so they can be surfaced as warnings next to the report
type EdgeCaseHandler struct {
	Config *MatchingConfig
}

// NewEdgeCaseHandler creates a new edge case handler
func NewEdgeCaseHandler(config *MatchingConfig) *EdgeCaseHandler {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &EdgeCaseHandler{Config: config}
}

// DuplicateGroup is a set of external records that no scorer can tell apart
type DuplicateGroup struct {
	GroupID string
	Key     string
	Records []*models.ExternalRecord
	Reason  string
}

// OrphanOffice is a receipt office with no external record at all
type OrphanOffice struct {
	OfficeCode string
	Receipts   []*models.Receipt
}

// Warning is a human-readable edge case finding
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DetectDuplicateRecords groups records sharing office, case year and name.
// Any receipt that scores them will see a tie and end up ambiguous unless a
// preparer match breaks it.
func (ech *EdgeCaseHandler) DetectDuplicateRecords(records []*models.ExternalRecord) []DuplicateGroup {
	byKey := make(map[string][]*models.ExternalRecord)
	var order []string
	for _, rec := range records {
		if rec.OfficeCode == "" || rec.LastName == "" {
			continue
		}
		key := rec.Key()
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], rec)
	}

	var groups []DuplicateGroup
	for _, key := range order {
		recs := byKey[key]
		if len(recs) < 2 {
			continue
		}
		groups = append(groups, DuplicateGroup{
			GroupID: fmt.Sprintf("DUP_%d", recs[0].Index),
			Key:     key,
			Records: recs,
			Reason:  fmt.Sprintf("%d records for %s %s in %s", len(recs), recs[0].FirstName, recs[0].LastName, recs[0].OfficeCode),
		})
	}
	return groups
}

// DetectOrphanOffices lists receipt offices absent from the external records.
// Receipts of these offices are always reported as NoReturnFound.
func (ech *EdgeCaseHandler) DetectOrphanOffices(receipts []*models.Receipt, records []*models.ExternalRecord) []OrphanOffice {
	known := make(map[string]bool)
	for _, rec := range records {
		if rec.OfficeCode != "" {
			known[rec.OfficeCode] = true
		}
	}

	byOffice := make(map[string][]*models.Receipt)
	for _, receipt := range receipts {
		if !known[receipt.OfficeCode] {
			byOffice[receipt.OfficeCode] = append(byOffice[receipt.OfficeCode], receipt)
		}
	}

	orphans := make([]OrphanOffice, 0, len(byOffice))
	for office, rs := range byOffice {
		orphans = append(orphans, OrphanOffice{OfficeCode: office, Receipts: rs})
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].OfficeCode < orphans[j].OfficeCode
	})
	return orphans
}

// Warnings runs every detector and renders the findings
func (ech *EdgeCaseHandler) Warnings(receipts []*models.Receipt, records []*models.ExternalRecord) []Warning {
	var warnings []Warning

	for _, orphan := range ech.DetectOrphanOffices(receipts, records) {
		office := orphan.OfficeCode
		if office == "" {
			office = "(no office code)"
		}
		warnings = append(warnings, Warning{
			Kind:    "orphan_office",
			Message: fmt.Sprintf("office %s has %d receipt(s) but no external records", office, len(orphan.Receipts)),
		})
	}

	for _, group := range ech.DetectDuplicateRecords(records) {
		warnings = append(warnings, Warning{
			Kind:    "duplicate_records",
			Message: group.Reason,
		})
	}

	var noOffice int
	for _, rec := range records {
		if rec.OfficeCode == "" {
			noOffice++
		}
	}
	if noOffice > 0 {
		warnings = append(warnings, Warning{
			Kind:    "record_without_office",
			Message: fmt.Sprintf("%d external record(s) have no recognizable office code and can never match", noOffice),
		})
	}

	return warnings
}
