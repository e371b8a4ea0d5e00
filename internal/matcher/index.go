package matcher

import (
	"sort"

	"receipt-reconciliation-service/internal/models"
)

// RecordIndex groups external records by office so that candidate selection
// never scores records of another office
type RecordIndex struct {
	// OfficeIndex maps office codes to records in input order
	OfficeIndex map[string][]*models.ExternalRecord

	// KeyIndex maps record fingerprints to records in input order
	KeyIndex map[string][]*models.ExternalRecord

	// AllRecords holds all indexed records
	AllRecords []*models.ExternalRecord
}

// ClaimSet tracks records already assigned within one run, by Index
type ClaimSet map[int]bool

// NewRecordIndex creates a new record index from a slice of records
func NewRecordIndex(records []*models.ExternalRecord) *RecordIndex {
	index := &RecordIndex{
		OfficeIndex: make(map[string][]*models.ExternalRecord),
		KeyIndex:    make(map[string][]*models.ExternalRecord),
	}
	for _, rec := range records {
		index.AddRecord(rec)
	}
	return index
}

// AddRecord adds a record to the index. Records without an office code are
// kept in AllRecords but are never candidates.
func (ri *RecordIndex) AddRecord(rec *models.ExternalRecord) {
	ri.AllRecords = append(ri.AllRecords, rec)
	ri.KeyIndex[rec.Key()] = append(ri.KeyIndex[rec.Key()], rec)
	if rec.OfficeCode != "" {
		ri.OfficeIndex[rec.OfficeCode] = append(ri.OfficeIndex[rec.OfficeCode], rec)
	}
}

// GetByOffice returns the records of an office in input order
func (ri *RecordIndex) GetByOffice(office string) []*models.ExternalRecord {
	if office == "" {
		return nil
	}
	return ri.OfficeIndex[office]
}

// GetCandidates returns the unclaimed records sharing the receipt's office
func (ri *RecordIndex) GetCandidates(receipt *models.Receipt, claimed ClaimSet) []*models.ExternalRecord {
	var candidates []*models.ExternalRecord
	for _, rec := range ri.GetByOffice(receipt.OfficeCode) {
		if !claimed[rec.Index] {
			candidates = append(candidates, rec)
		}
	}
	return candidates
}

// FirstUnclaimedByKey returns the first unclaimed record with the given
// fingerprint, or nil
func (ri *RecordIndex) FirstUnclaimedByKey(key string, claimed ClaimSet) *models.ExternalRecord {
	for _, rec := range ri.KeyIndex[key] {
		if !claimed[rec.Index] {
			return rec
		}
	}
	return nil
}

// Offices returns the indexed office codes in sorted order
func (ri *RecordIndex) Offices() []string {
	offices := make([]string, 0, len(ri.OfficeIndex))
	for office := range ri.OfficeIndex {
		offices = append(offices, office)
	}
	sort.Strings(offices)
	return offices
}

// GetIndexStats returns statistics about the record index
func (ri *RecordIndex) GetIndexStats() IndexStats {
	stats := IndexStats{
		TotalRecords:  len(ri.AllRecords),
		UniqueOffices: len(ri.OfficeIndex),
		UniqueKeys:    len(ri.KeyIndex),
	}
	for _, rec := range ri.AllRecords {
		if rec.OfficeCode == "" {
			stats.WithoutOffice++
		}
	}
	return stats
}

// IndexStats provides statistics about the index
type IndexStats struct {
	TotalRecords  int
	UniqueOffices int
	UniqueKeys    int
	WithoutOffice int
}
