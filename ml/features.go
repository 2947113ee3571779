package ml

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Column names shared by the training data, the artifact and the serving
// request.
const (
	ColBHK                = "BHK"
	ColSize               = "Size"
	ColBathroom           = "Bathroom"
	ColFloor              = "Floor"
	ColFloorNum           = "Floor_Num"
	ColTotalFloors        = "Total_Floors"
	ColIsTopFloor         = "Is_Top_Floor"
	ColIsGroundFloor      = "Is_Ground_Floor"
	ColAreaType           = "Area Type"
	ColCity               = "City"
	ColFurnishingStatus   = "Furnishing Status"
	ColTenantPreferred    = "Tenant Preferred"
	ColAreaLocality       = "Area Locality"
	ColAreaLocalitySimple = "Area_Locality_Simple"
	ColRent               = "Rent"
	ColRentLog            = "Rent_Log"
)

// NumericColumns returns the standardized columns in model order.
func NumericColumns() []string {
	return []string{
		ColBHK,
		ColSize,
		ColBathroom,
		ColFloorNum,
		ColTotalFloors,
		ColIsTopFloor,
		ColIsGroundFloor,
	}
}

// CategoricalColumns returns the one-hot encoded columns in model order.
func CategoricalColumns() []string {
	return []string{
		ColAreaType,
		ColCity,
		ColFurnishingStatus,
		ColTenantPreferred,
		ColAreaLocalitySimple,
	}
}

// ModelColumns is the ordered feature list the pipeline consumes. The order
// is part of the artifact contract.
func ModelColumns() []string {
	return append(NumericColumns(), CategoricalColumns()...)
}

// RawRecord is one row of training data keyed by column header.
type RawRecord map[string]string

// Lookup returns the cell for column and whether it holds a value. Blank
// cells count as missing, matching how tabular readers treat empty fields.
func (r RawRecord) Lookup(column string) (string, bool) {
	v, ok := r[column]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// key is a canonical form of the whole row used for exact-duplicate checks.
func (r RawRecord) key() string {
	columns := make([]string, 0, len(r))
	for column := range r {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var b strings.Builder
	for _, column := range columns {
		b.WriteString(column)
		b.WriteByte('\x1f')
		b.WriteString(r[column])
		b.WriteByte('\x1e')
	}
	return b.String()
}

// EngineeredRecord carries exactly the model columns.
type EngineeredRecord struct {
	BHK           float64
	Size          float64
	Bathroom      float64
	FloorNum      float64
	TotalFloors   float64
	IsTopFloor    float64
	IsGroundFloor float64

	AreaType           string
	City               string
	FurnishingStatus   string
	TenantPreferred    string
	AreaLocalitySimple string
}

// Field is one named model input.
type Field struct {
	Name  string
	Value any
}

// Fields lists the record in ModelColumns order.
func (r EngineeredRecord) Fields() []Field {
	names := ModelColumns()
	values := make([]any, 0, len(names))
	for _, v := range r.Numeric() {
		values = append(values, v)
	}
	for _, v := range r.Categorical() {
		values = append(values, v)
	}
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, Value: values[i]}
	}
	return fields
}

// Numeric returns the numeric block in NumericColumns order.
func (r EngineeredRecord) Numeric() []float64 {
	return []float64{
		r.BHK,
		r.Size,
		r.Bathroom,
		r.FloorNum,
		r.TotalFloors,
		r.IsTopFloor,
		r.IsGroundFloor,
	}
}

// Categorical returns the categorical block in CategoricalColumns order.
func (r EngineeredRecord) Categorical() []string {
	return []string{
		r.AreaType,
		r.City,
		r.FurnishingStatus,
		r.TenantPreferred,
		r.AreaLocalitySimple,
	}
}

// WithFloorFlags fills the derived floor indicators from FloorNum and
// TotalFloors. Training and serving both go through here.
func (r EngineeredRecord) WithFloorFlags() EngineeredRecord {
	r.IsTopFloor, r.IsGroundFloor = FloorFlags(r.FloorNum, r.TotalFloors)
	return r
}

// NormalizeText puts categorical text into NFC so that visually identical
// labels from different sources compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}
