// Package scenario generates synthetic receipt and record exports whose
// reconciliation outcome is known in advance, and checks a run against it.
//
// Names are built so that only the intended record of a receipt can reach the
// default match threshold: last names are unique and of equal length and
// first names within an office have distinct initials, so an unrelated
// record earns at most the office and preparer points.
package scenario

import (
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
)

// Kind is the outcome a generated receipt is built to reach
type Kind string

const (
	KindClean           Kind = "clean"
	KindNeedsCorrection Kind = "needs_correction"
	KindNotTransmitted  Kind = "not_transmitted"
	KindMediumMatch     Kind = "medium_match"
	KindWrongDate       Kind = "wrong_date"
	KindNoReturn        Kind = "no_return"
	KindAmbiguous       Kind = "ambiguous"
)

// Expected returns the terminal state a receipt of this kind must reach
func (k Kind) Expected() models.Outcome {
	switch k {
	case KindNeedsCorrection:
		return models.OutcomeMatchedNeedsCorrection
	case KindNotTransmitted:
		return models.OutcomeMatchedNotTransmitted
	case KindWrongDate:
		return models.OutcomeWrongDateExcluded
	case KindNoReturn:
		return models.OutcomeNoReturnFound
	case KindAmbiguous:
		return models.OutcomeAmbiguousMatch
	default:
		return models.OutcomeMatchedClean
	}
}

// kindWeights is the share of receipts, in percent, built for each kind
var kindWeights = []struct {
	kind   Kind
	weight int
}{
	{KindClean, 40},
	{KindNeedsCorrection, 10},
	{KindNotTransmitted, 10},
	{KindMediumMatch, 10},
	{KindWrongDate, 10},
	{KindNoReturn, 10},
	{KindAmbiguous, 10},
}

// Distinct initials keep unintended first-name points at zero within an office.
var (
	firstNames = []string{"Ann", "Bob", "Carl", "Dana", "Eve", "Frank", "Gina", "Hugo", "Ivy", "Jack"}
	lastStems  = []string{"Smith", "Jones", "Brown", "Davis", "Moore", "Clark", "Lewis", "Young", "Allen", "Adams"}
	states     = []string{"CA", "TX", "NY", "FL"}
	owners     = []string{"jdoe", "asmith", "bkim", "mlee"}
	methods    = []string{"Card", "Cash", "Check"}
)

const receiptsPerOffice = 10

// Config controls a generated scenario
type Config struct {
	Seed        uint64    `json:"seed"`
	Receipts    int       `json:"receipts" validate:"min=1,max=3000"`
	RunDate     time.Time `json:"run_date"`
	FeeCategory string    `json:"fee_category" validate:"required"`
	CaseYear    string    `json:"case_year" validate:"required,numeric,len=4"`
}

// DefaultConfig returns a 100-receipt scenario for 2024-03-15
func DefaultConfig() Config {
	return Config{
		Seed:        1,
		Receipts:    100,
		RunDate:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		FeeCategory: "Tax Prep Fee",
		CaseYear:    "2024",
	}
}

var validate = validator.New()

// Validate checks the scenario bounds
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "scenario", c.Receipts, err)
	}
	if c.RunDate.IsZero() {
		return errors.ConfigurationError(errors.CodeMissingConfig, "run_date", nil, nil)
	}
	return nil
}

// Scenario is a generated pair of exports plus the outcome of every receipt
type Scenario struct {
	Config Config

	Lines []models.ReceiptLine
	Rows  []models.ExternalRecordRow

	Kinds map[string]Kind
}

// Expected maps every receipt number to its required terminal state
func (s *Scenario) Expected() map[string]models.Outcome {
	out := make(map[string]models.Outcome, len(s.Kinds))
	for number, kind := range s.Kinds {
		out[number] = kind.Expected()
	}
	return out
}

// Count returns how many receipts were built for kind
func (s *Scenario) Count(kind Kind) int {
	n := 0
	for _, k := range s.Kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// Generate builds a scenario. The same Config always yields the same scenario.
func Generate(cfg Config) (*Scenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	s := &Scenario{
		Config: cfg,
		Kinds:  make(map[string]Kind, cfg.Receipts),
	}

	for i := 0; i < cfg.Receipts; i++ {
		kind := pickKind(rng)
		number := fmt.Sprintf("%d", 10001+i)
		s.Kinds[number] = kind

		office := officeCode(i / receiptsPerOffice)
		owner := owners[rng.IntN(len(owners))]
		first := firstNames[i%receiptsPerOffice]
		last := lastStems[rng.IntN(len(lastStems))] + suffix(i)

		day := cfg.RunDate
		if kind == KindWrongDate {
			day = day.AddDate(0, 0, -1)
		}
		at := day.Add(time.Duration(9*60+rng.IntN(8*60)) * time.Minute)

		s.Lines = append(s.Lines, receiptLines(rng, cfg, number, office, owner, first, last, at)...)
		s.Rows = append(s.Rows, recordRows(cfg, kind, office, owner, first, last)...)
	}

	rng.Shuffle(len(s.Rows), func(i, j int) { s.Rows[i], s.Rows[j] = s.Rows[j], s.Rows[i] })
	return s, nil
}

func pickKind(rng *rand.Rand) Kind {
	n := rng.IntN(100)
	for _, kw := range kindWeights {
		if n < kw.weight {
			return kw.kind
		}
		n -= kw.weight
	}
	return KindClean
}

func receiptLines(rng *rand.Rand, cfg Config, number, office, owner, first, last string, at time.Time) []models.ReceiptLine {
	base := models.ReceiptLine{
		ReceiptNumber: number,
		OfficeRaw:     officeLabel(rng, office),
		OwnerRaw:      owner,
		CustomerRaw:   last + ", " + first,
		CategoryRaw:   cfg.FeeCategory,
		DateTimeRaw:   at.Format("2006-01-02 15:04:05"),
		MethodRaw:     methods[rng.IntN(len(methods))],
	}

	var lines []models.ReceiptLine
	for n := 1 + rng.IntN(3); n > 0; n-- {
		line := base
		line.FeeAmount = decimal.New(int64(2500+rng.IntN(27500)), -2)
		lines = append(lines, line)
	}
	if rng.IntN(4) == 0 {
		extra := base
		extra.CategoryRaw = "Notary"
		extra.FeeAmount = decimal.New(1000, -2)
		lines = append(lines, extra)
	}
	return lines
}

func recordRows(cfg Config, kind Kind, office, owner, first, last string) []models.ExternalRecordRow {
	row := models.ExternalRecordRow{
		OfficeRaw:    office,
		CaseYear:     cfg.CaseYear,
		FirstNameRaw: first,
		LastNameRaw:  last,
		PreparerRaw:  owner,
		StatusRaw:    "Accepted",
	}

	switch kind {
	case KindNoReturn:
		return nil
	case KindNeedsCorrection:
		row.StatusRaw = "Rejected"
	case KindNotTransmitted:
		row.StatusRaw = "In Progress"
	case KindMediumMatch:
		// office and last name only: 90 points, prepared by someone else
		row.FirstNameRaw = "Zoe"
		row.PreparerRaw = "floater"
	case KindAmbiguous:
		twin := row
		twin.StatusRaw = "Transmitted"
		return []models.ExternalRecordRow{row, twin}
	}
	return []models.ExternalRecordRow{row}
}

// officeCode gives office n a unique two-letter/three-digit code
func officeCode(n int) string {
	return fmt.Sprintf("%s%03d", states[n%len(states)], 10*(n/len(states)+1))
}

// officeLabel dresses the code up the way register exports print locations
func officeLabel(rng *rand.Rand, code string) string {
	switch rng.IntN(3) {
	case 0:
		return "Main St " + code
	case 1:
		return code[:2] + "-" + code[2:]
	default:
		return code
	}
}

// suffix encodes i in three lowercase letters
func suffix(i int) string {
	b := []byte{'a', 'a', 'a'}
	for pos := 2; pos >= 0; pos-- {
		b[pos] = byte('a' + i%26)
		i /= 26
	}
	return string(b)
}

var (
	receiptHeader = []string{"Receipt #", "Location", "Employee", "Customer", "Fee Category", "Amount", "Date/Time", "Payment Method"}
	recordHeader  = []string{"Office", "Tax Year", "First Name", "Last Name", "Preparer", "Return Status"}
)

// WriteCSV writes receipts.csv and records.csv into dir
func (s *Scenario) WriteCSV(dir string) (receiptsPath, recordsPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.FileError(errors.CodeFilePermission, dir, err)
	}

	receiptsPath = filepath.Join(dir, "receipts.csv")
	receiptRows := make([][]string, 0, len(s.Lines))
	for _, l := range s.Lines {
		receiptRows = append(receiptRows, []string{
			l.ReceiptNumber, l.OfficeRaw, l.OwnerRaw, l.CustomerRaw, l.CategoryRaw,
			l.FeeAmount.StringFixed(2), l.DateTimeRaw, l.MethodRaw,
		})
	}
	if err := writeCSV(receiptsPath, receiptHeader, receiptRows); err != nil {
		return "", "", err
	}

	recordsPath = filepath.Join(dir, "records.csv")
	recordRows := make([][]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		recordRows = append(recordRows, []string{r.OfficeRaw, r.CaseYear, r.FirstNameRaw, r.LastNameRaw, r.PreparerRaw, r.StatusRaw})
	}
	if err := writeCSV(recordsPath, recordHeader, recordRows); err != nil {
		return "", "", err
	}

	return receiptsPath, recordsPath, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}

	w := csv.NewWriter(file)
	_ = w.Write(header)
	_ = w.WriteAll(rows)
	if err := w.Error(); err != nil {
		file.Close()
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// Mismatch is a receipt whose outcome differs from the generated one
type Mismatch struct {
	ReceiptNumber string         `json:"receipt_number"`
	Kind          Kind           `json:"kind"`
	Expected      models.Outcome `json:"expected"`
	Actual        models.Outcome `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s (%s): expected %s, got %s", m.ReceiptNumber, m.Kind, m.Expected, m.Actual)
}

// Verify compares actual outcomes against the scenario. A receipt missing
// from actual is reported with an empty Actual.
func (s *Scenario) Verify(actual map[string]models.Outcome) []Mismatch {
	var mismatches []Mismatch
	for number, kind := range s.Kinds {
		got := actual[number]
		if want := kind.Expected(); got != want {
			mismatches = append(mismatches, Mismatch{ReceiptNumber: number, Kind: kind, Expected: want, Actual: got})
		}
	}
	for number, got := range actual {
		if _, ok := s.Kinds[number]; !ok {
			mismatches = append(mismatches, Mismatch{ReceiptNumber: number, Actual: got})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].ReceiptNumber < mismatches[j].ReceiptNumber
	})
	return mismatches
}
