package parsers

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical receipt columns
const (
	ColReceiptNumber = "receipt_number"
	ColOffice        = "office"
	ColOwner         = "owner"
	ColCustomer      = "customer"
	ColCategory      = "category"
	ColFee           = "fee"
	ColDateTime      = "date_time"
	ColMethod        = "method"
)

// Canonical external record columns (ColOffice is shared)
const (
	ColCaseYear  = "case_year"
	ColFirstName = "first_name"
	ColLastName  = "last_name"
	ColPreparer  = "preparer"
	ColStatus    = "status"
)

var receiptColumns = []string{
	ColReceiptNumber, ColOffice, ColOwner, ColCustomer,
	ColCategory, ColFee, ColDateTime, ColMethod,
}

var recordColumns = []string{
	ColOffice, ColCaseYear, ColFirstName, ColLastName, ColPreparer, ColStatus,
}

// Header spellings seen in register and case-management exports, already in
// CanonicalColumn form
var defaultReceiptAliases = map[string]string{
	"receipt":          ColReceiptNumber,
	"receipt_no":       ColReceiptNumber,
	"receipt_num":      ColReceiptNumber,
	"receipt_id":       ColReceiptNumber,
	"ticket":           ColReceiptNumber,
	"location":         ColOffice,
	"office_code":      ColOffice,
	"store":            ColOffice,
	"employee":         ColOwner,
	"cashier":          ColOwner,
	"receipt_owner":    ColOwner,
	"user":             ColOwner,
	"customer_name":    ColCustomer,
	"client":           ColCustomer,
	"client_name":      ColCustomer,
	"fee_category":     ColCategory,
	"item":             ColCategory,
	"description":      ColCategory,
	"service":          ColCategory,
	"amount":           ColFee,
	"fee_amount":       ColFee,
	"price":            ColFee,
	"date":             ColDateTime,
	"datetime":         ColDateTime,
	"timestamp":        ColDateTime,
	"transaction_date": ColDateTime,
	"payment_method":   ColMethod,
	"payment":          ColMethod,
	"tender":           ColMethod,
}

var defaultRecordAliases = map[string]string{
	"location":      ColOffice,
	"office_code":   ColOffice,
	"year":          ColCaseYear,
	"tax_year":      ColCaseYear,
	"season":        ColCaseYear,
	"first":         ColFirstName,
	"firstname":     ColFirstName,
	"given_name":    ColFirstName,
	"last":          ColLastName,
	"lastname":      ColLastName,
	"surname":       ColLastName,
	"preparer_id":   ColPreparer,
	"prepared_by":   ColPreparer,
	"preparer_code": ColPreparer,
	"return_status": ColStatus,
	"efile_status":  ColStatus,
	"state":         ColStatus,
}

// ReceiptParserConfig holds configuration for parsing receipt line files
type ReceiptParserConfig struct {
	HasHeader bool `json:"has_header"`
	Delimiter rune `json:"delimiter"`
	// ColumnAliases maps an input header onto a canonical column name and
	// extends the built-in aliases
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`
}

// DefaultReceiptParserConfig returns a configuration with standard defaults
func DefaultReceiptParserConfig() *ReceiptParserConfig {
	return &ReceiptParserConfig{
		HasHeader: true,
		Delimiter: ',',
	}
}

// Validate checks if the receipt parser configuration is valid
func (c *ReceiptParserConfig) Validate() error {
	if err := validateDelimiter(c.Delimiter); err != nil {
		return err
	}
	return validateAliases(c.ColumnAliases, receiptColumns)
}

// Aliases returns the built-in aliases merged with the configured ones
func (c *ReceiptParserConfig) Aliases() map[string]string {
	return mergeAliases(defaultReceiptAliases, c.ColumnAliases)
}

// RequiredColumns lists the canonical columns a receipt file must carry
func (c *ReceiptParserConfig) RequiredColumns() []string {
	return []string{ColReceiptNumber, ColOffice, ColCustomer, ColCategory, ColFee, ColDateTime}
}

func (c *ReceiptParserConfig) parseConfig() *ParseConfig {
	config := DefaultParseConfig()
	config.HasHeader = c.HasHeader
	config.Delimiter = c.Delimiter
	return config
}

// RecordParserConfig holds configuration for parsing external record files
type RecordParserConfig struct {
	HasHeader     bool              `json:"has_header"`
	Delimiter     rune              `json:"delimiter"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`
}

// DefaultRecordParserConfig returns a configuration with standard defaults
func DefaultRecordParserConfig() *RecordParserConfig {
	return &RecordParserConfig{
		HasHeader: true,
		Delimiter: ',',
	}
}

// Validate checks if the record parser configuration is valid
func (c *RecordParserConfig) Validate() error {
	if err := validateDelimiter(c.Delimiter); err != nil {
		return err
	}
	return validateAliases(c.ColumnAliases, recordColumns)
}

// Aliases returns the built-in aliases merged with the configured ones
func (c *RecordParserConfig) Aliases() map[string]string {
	return mergeAliases(defaultRecordAliases, c.ColumnAliases)
}

// RequiredColumns lists the canonical columns a record file must carry
func (c *RecordParserConfig) RequiredColumns() []string {
	return []string{ColOffice, ColLastName, ColStatus}
}

func (c *RecordParserConfig) parseConfig() *ParseConfig {
	config := DefaultParseConfig()
	config.HasHeader = c.HasHeader
	config.Delimiter = c.Delimiter
	return config
}

func validateDelimiter(delimiter rune) error {
	switch delimiter {
	case 0:
		return fmt.Errorf("delimiter cannot be empty")
	case '"', '\r', '\n', '\uFFFD':
		return fmt.Errorf("invalid delimiter %q", delimiter)
	}
	return nil
}

func validateAliases(aliases map[string]string, columns []string) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, alias := range keys {
		if CanonicalColumn(alias) == "" {
			return fmt.Errorf("column alias cannot be empty")
		}
		if target := aliases[alias]; !known[target] {
			return fmt.Errorf("alias %q targets unknown column %q (known: %s)",
				alias, target, strings.Join(columns, ", "))
		}
	}
	return nil
}

func mergeAliases(defaults, custom map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(custom))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range custom {
		merged[CanonicalColumn(k)] = v
	}
	return merged
}
