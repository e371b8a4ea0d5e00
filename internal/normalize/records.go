package normalize

import (
	"strings"

	"receipt-reconciliation-service/internal/models"
)

// Record normalizes one external row. index is the row's position in the
// input list and becomes the record's run-local identity.
func Record(row models.ExternalRecordRow, index int) *models.ExternalRecord {
	return &models.ExternalRecord{
		Index:              index,
		OfficeCode:         OfficeCode(row.OfficeRaw),
		CaseYear:           strings.TrimSpace(row.CaseYear),
		FirstName:          Name(row.FirstNameRaw),
		LastName:           Name(row.LastNameRaw),
		PreparerRaw:        strings.TrimSpace(row.PreparerRaw),
		PreparerNormalized: Name(row.PreparerRaw),
		StatusRaw:          strings.TrimSpace(row.StatusRaw),
	}
}

// Records normalizes rows in input order
func Records(rows []models.ExternalRecordRow) []*models.ExternalRecord {
	records := make([]*models.ExternalRecord, len(rows))
	for i, row := range rows {
		records[i] = Record(row, i)
	}
	return records
}
