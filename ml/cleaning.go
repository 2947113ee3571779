package ml

import (
	"errors"
	"strconv"
	"strings"
)

// Rule names double as keys of DataQualityReport.Rejected.
const (
	RuleDuplicate     = "duplicate"
	RuleInvalidNumber = "invalid_number"
	RuleMinSize       = "min_size"

	issueFloorUnparsed = "floor_unparsed"

	// DefaultMinSize is the smallest Size admitted into training data.
	DefaultMinSize = 100

	maxRecordedIssues = 1000
)

// CleaningRule rejects a training row by returning a non-nil issue.
type CleaningRule interface {
	Name() string
	Check(row int, record RawRecord) *DataQualityError
}

// DataQualityReport summarizes what cleaning and imputation did to a batch.
type DataQualityReport struct {
	TotalRows          int                `json:"total_rows"`
	Admitted           int                `json:"admitted"`
	Rejected           map[string]int     `json:"rejected"`
	FloorNumImputed    int                `json:"floor_num_imputed"`
	TotalFloorsImputed int                `json:"total_floors_imputed"`
	MedianFloorNum     float64            `json:"median_floor_num"`
	MedianTotalFloors  float64            `json:"median_total_floors"`
	Issues             []DataQualityError `json:"issues,omitempty"`
}

func newDataQualityReport(total int) DataQualityReport {
	return DataQualityReport{
		TotalRows: total,
		Rejected:  make(map[string]int),
	}
}

func (r *DataQualityReport) record(issue DataQualityError) {
	if len(r.Issues) < maxRecordedIssues {
		r.Issues = append(r.Issues, issue)
	}
}

// Cleaner applies rules in order; the first rule to object drops the row.
type Cleaner struct {
	rules []CleaningRule
}

// NewCleaner builds the default rule chain: exact duplicates, unparseable
// or negative numbers, then the minimum size floor.
func NewCleaner(minSize float64) *Cleaner {
	return &Cleaner{
		rules: []CleaningRule{
			NewDuplicateRule(),
			&NumericRule{Columns: []string{ColBHK, ColSize, ColBathroom, ColRent}},
			&MinSizeRule{MinSize: minSize},
		},
	}
}

// Clean returns the admitted rows in input order.
func (c *Cleaner) Clean(records []RawRecord, report *DataQualityReport) []RawRecord {
	admitted := make([]RawRecord, 0, len(records))
	for i, record := range records {
		rejected := false
		for _, rule := range c.rules {
			if issue := rule.Check(i, record); issue != nil {
				report.Rejected[rule.Name()]++
				report.record(*issue)
				rejected = true
				break
			}
		}
		if !rejected {
			admitted = append(admitted, record)
		}
	}
	report.Admitted = len(admitted)
	return admitted
}

// DuplicateRule drops a row identical in every column to an earlier one.
// It is stateful; use a fresh rule per batch.
type DuplicateRule struct {
	seen map[string]struct{}
}

func NewDuplicateRule() *DuplicateRule {
	return &DuplicateRule{seen: make(map[string]struct{})}
}

func (r *DuplicateRule) Name() string { return RuleDuplicate }

func (r *DuplicateRule) Check(row int, record RawRecord) *DataQualityError {
	key := record.key()
	if _, dup := r.seen[key]; dup {
		return &DataQualityError{Row: row, Reason: "exact duplicate"}
	}
	r.seen[key] = struct{}{}
	return nil
}

// NumericRule requires each column to hold a finite, non-negative number.
type NumericRule struct {
	Columns []string
}

func (r *NumericRule) Name() string { return RuleInvalidNumber }

func (r *NumericRule) Check(row int, record RawRecord) *DataQualityError {
	for _, column := range r.Columns {
		cell, ok := record.Lookup(column)
		if !ok {
			return &DataQualityError{Row: row, Column: column, Reason: "missing value"}
		}
		v, err := parseNumber(cell)
		if err != nil {
			return &DataQualityError{Row: row, Column: column, Value: cell, Reason: err.Error()}
		}
		if v < 0 {
			return &DataQualityError{Row: row, Column: column, Value: cell, Reason: "negative value"}
		}
	}
	return nil
}

// MinSizeRule drops listings smaller than MinSize; they are noise, not errors.
type MinSizeRule struct {
	MinSize float64
}

func (r *MinSizeRule) Name() string { return RuleMinSize }

func (r *MinSizeRule) Check(row int, record RawRecord) *DataQualityError {
	cell, _ := record.Lookup(ColSize)
	size, err := parseNumber(cell)
	if err != nil || size < r.MinSize {
		return &DataQualityError{Row: row, Column: ColSize, Value: cell, Reason: "below minimum size"}
	}
	return nil
}

var errNotANumber = errors.New("not a number")

func parseNumber(cell string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || !isFinite(v) {
		return 0, errNotANumber
	}
	return v, nil
}
