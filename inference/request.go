package inference

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"rentpredict/ml"
)

// Request is the validated serving input. Floors arrive pre-resolved as
// numbers; the raw floor text is never parsed at serving time.
type Request struct {
	BHK                float64 `json:"BHK" validate:"finite,min=0,integral"`
	Size               float64 `json:"Size" validate:"finite,min=0"`
	Bathroom           float64 `json:"Bathroom" validate:"finite,min=0,integral"`
	FloorNum           float64 `json:"Floor_Num" validate:"finite,integral"`
	TotalFloors        float64 `json:"Total_Floors" validate:"finite,integral"`
	AreaType           string  `json:"Area Type"`
	City               string  `json:"City"`
	FurnishingStatus   string  `json:"Furnishing Status"`
	TenantPreferred    string  `json:"Tenant Preferred"`
	AreaLocalitySimple string  `json:"Area_Locality_Simple"`
}

type requestField struct {
	name   string
	number func(*Request) *float64
	text   func(*Request) *string
}

// requestSchema lists the required serving fields and how each is decoded.
var requestSchema = []requestField{
	{name: ml.ColBHK, number: func(r *Request) *float64 { return &r.BHK }},
	{name: ml.ColSize, number: func(r *Request) *float64 { return &r.Size }},
	{name: ml.ColBathroom, number: func(r *Request) *float64 { return &r.Bathroom }},
	{name: ml.ColFloorNum, number: func(r *Request) *float64 { return &r.FloorNum }},
	{name: ml.ColTotalFloors, number: func(r *Request) *float64 { return &r.TotalFloors }},
	{name: ml.ColAreaType, text: func(r *Request) *string { return &r.AreaType }},
	{name: ml.ColCity, text: func(r *Request) *string { return &r.City }},
	{name: ml.ColFurnishingStatus, text: func(r *Request) *string { return &r.FurnishingStatus }},
	{name: ml.ColTenantPreferred, text: func(r *Request) *string { return &r.TenantPreferred }},
	{name: ml.ColAreaLocalitySimple, text: func(r *Request) *string { return &r.AreaLocalitySimple }},
}

// RequiredFields returns the request keys a client must send.
func RequiredFields() []string {
	names := make([]string, len(requestSchema))
	for i, f := range requestSchema {
		names[i] = f.name
	}
	return names
}

// ParseRequest checks presence first, then types, then value rules. Keys
// outside the schema are ignored. A JSON null counts as missing.
func ParseRequest(raw map[string]any) (Request, error) {
	var missing []string
	for _, f := range requestSchema {
		if v, ok := raw[f.name]; !ok || v == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Request{}, &ValidationError{Missing: missing}
	}

	var req Request
	var invalid []FieldError
	for _, f := range requestSchema {
		v := raw[f.name]
		if f.number != nil {
			n, ok := toFloat(v)
			if !ok {
				invalid = append(invalid, FieldError{Field: f.name, Reason: "must be a number"})
				continue
			}
			*f.number(&req) = n
			continue
		}
		s, ok := v.(string)
		if !ok {
			invalid = append(invalid, FieldError{Field: f.name, Reason: "must be a string"})
			continue
		}
		*f.text(&req) = s
	}
	if len(invalid) > 0 {
		return Request{}, &ValidationError{Invalid: invalid}
	}

	if err := requestValidator().Struct(&req); err != nil {
		return Request{}, translateValidation(err)
	}
	return req, nil
}

// Record assembles the model input, deriving the floor flags and applying
// the frozen locality vocabulary.
func (r Request) Record(localities *ml.LocalityVocabulary) ml.EngineeredRecord {
	return ml.EngineeredRecord{
		BHK:                r.BHK,
		Size:               r.Size,
		Bathroom:           r.Bathroom,
		FloorNum:           r.FloorNum,
		TotalFloors:        r.TotalFloors,
		AreaType:           ml.NormalizeText(r.AreaType),
		City:               ml.NormalizeText(r.City),
		FurnishingStatus:   ml.NormalizeText(r.FurnishingStatus),
		TenantPreferred:    ml.NormalizeText(r.TenantPreferred),
		AreaLocalitySimple: localities.Bucket(ml.NormalizeText(r.AreaLocalitySimple)),
	}.WithFloorFlags()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("integral", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return f == math.Trunc(f)
		})
		_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		})
		validate = v
	})
	return validate
}

func translateValidation(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &ValidationError{Invalid: []FieldError{{Field: "request", Reason: err.Error()}}}
	}
	invalid := make([]FieldError, 0, len(errs))
	for _, fe := range errs {
		var reason string
		switch fe.Tag() {
		case "min":
			reason = "must be >= " + fe.Param()
		case "integral":
			reason = "must be a whole number"
		case "finite":
			reason = "must be a finite number"
		default:
			reason = "failed " + fe.Tag() + " check"
		}
		invalid = append(invalid, FieldError{Field: fe.Field(), Reason: reason})
	}
	return &ValidationError{Invalid: invalid}
}
