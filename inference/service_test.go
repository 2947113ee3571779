package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"rentpredict/ml"
)

var (
	pipelineOnce sync.Once
	testPipeline *ml.Pipeline
	pipelineErr  error
)

func trainingRows(n int) []ml.RawRecord {
	cities := []string{"Kolkata", "Mumbai", "Bangalore", "Delhi"}
	floors := []string{"Ground out of 2", "1 out of 3", "3 out of 3", "5 out of 10"}
	rows := make([]ml.RawRecord, n)
	for i := range rows {
		size := 400 + (i%11)*120
		rows[i] = ml.RawRecord{
			ml.ColBHK:              fmt.Sprint(1 + i%3),
			ml.ColSize:             fmt.Sprint(size),
			ml.ColBathroom:         fmt.Sprint(1 + i%2),
			ml.ColRent:             fmt.Sprint(size*8*(1+i%4) + i),
			ml.ColFloor:            floors[i%len(floors)],
			ml.ColAreaType:         []string{"Super Area", "Carpet Area"}[i%2],
			ml.ColAreaLocality:     fmt.Sprintf("Locality %d", i%6),
			ml.ColCity:             cities[i%len(cities)],
			ml.ColFurnishingStatus: []string{"Unfurnished", "Semi-Furnished", "Furnished"}[i%3],
			ml.ColTenantPreferred:  []string{"Bachelors/Family", "Bachelors", "Family"}[i%3],
		}
	}
	return rows
}

func fittedPipeline(t *testing.T) *ml.Pipeline {
	t.Helper()
	pipelineOnce.Do(func() {
		testPipeline, _, pipelineErr = ml.Fit(trainingRows(200), ml.TrainOptions{
			TopLocalities: 4,
			Boosting:      ml.BoostingParams{NumTrees: 30, LearningRate: 0.2, MaxDepth: 4, MinSamplesLeaf: 3},
		})
	})
	if pipelineErr != nil {
		t.Fatalf("unexpected error: %v", pipelineErr)
	}
	return testPipeline
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(fittedPipeline(t), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func kolkataRequest() map[string]any {
	return map[string]any{
		"BHK":                  2,
		"Size":                 900,
		"Bathroom":             2,
		"Floor_Num":            3,
		"Total_Floors":         3,
		"Area Type":            "Super Area",
		"City":                 "Kolkata",
		"Furnishing Status":    "Furnished",
		"Tenant Preferred":     "Bachelors",
		"Area_Locality_Simple": "Other",
	}
}

func TestNewServiceRejectsNilPipeline(t *testing.T) {
	if _, err := NewService(nil); !errors.Is(err, ml.ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestEngineerDerivesFloorFlags(t *testing.T) {
	svc := newTestService(t)

	record, err := svc.Engineer(kolkataRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.IsTopFloor != 1 || record.IsGroundFloor != 0 {
		t.Fatalf("expected top floor flags, got top=%v ground=%v", record.IsTopFloor, record.IsGroundFloor)
	}
	if record.AreaLocalitySimple != ml.OtherLocality {
		t.Fatalf("expected Other, got %q", record.AreaLocalitySimple)
	}
}

func TestEngineerBucketsUnknownLocality(t *testing.T) {
	svc := newTestService(t)

	req := kolkataRequest()
	req["Area_Locality_Simple"] = "Nowhere In Particular"
	record, err := svc.Engineer(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.AreaLocalitySimple != ml.OtherLocality {
		t.Fatalf("expected Other, got %q", record.AreaLocalitySimple)
	}

	req["Area_Locality_Simple"] = "Locality 0"
	record, err = svc.Engineer(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.AreaLocalitySimple != "Locality 0" {
		t.Fatalf("expected known locality to survive, got %q", record.AreaLocalitySimple)
	}
}

func TestPredictRentSuccess(t *testing.T) {
	svc := newTestService(t)

	resp := svc.PredictRent(context.Background(), kolkataRequest())
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.PredictedRent < 0 || math.IsNaN(resp.PredictedRent) {
		t.Fatalf("unexpected rent %v", resp.PredictedRent)
	}
	if resp.PredictedRent != math.Round(resp.PredictedRent*100)/100 {
		t.Fatalf("rent not rounded to cents: %v", resp.PredictedRent)
	}
}

func TestPredictMissingField(t *testing.T) {
	svc := newTestService(t)

	req := kolkataRequest()
	delete(req, "BHK")
	resp := svc.PredictRent(context.Background(), req)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(resp.Error, "BHK") {
		t.Fatalf("expected error to name BHK, got %q", resp.Error)
	}
	if !IsValidation(resp.Err) {
		t.Fatalf("expected validation error, got %v", resp.Err)
	}
}

func TestParseRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"null counts as missing", func(m map[string]any) { m["City"] = nil }, "City"},
		{"string number", func(m map[string]any) { m["Size"] = "900" }, "Size"},
		{"bool number", func(m map[string]any) { m["BHK"] = true }, "BHK"},
		{"numeric text", func(m map[string]any) { m["City"] = 7 }, "City"},
		{"negative size", func(m map[string]any) { m["Size"] = -1.0 }, "Size"},
		{"fractional bathroom", func(m map[string]any) { m["Bathroom"] = 1.5 }, "Bathroom"},
		{"fractional floor", func(m map[string]any) { m["Floor_Num"] = 2.25 }, "Floor_Num"},
		{"infinite size", func(m map[string]any) { m["Size"] = math.Inf(1) }, "Size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := kolkataRequest()
			tt.mutate(req)
			_, err := ParseRequest(req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("expected %s in %q", tt.field, err.Error())
			}
		})
	}
}

func TestParseRequestListsAllMissing(t *testing.T) {
	_, err := ParseRequest(map[string]any{"BHK": 1})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Missing) != len(RequiredFields())-1 {
		t.Fatalf("expected %d missing fields, got %v", len(RequiredFields())-1, verr.Missing)
	}
}

func TestParseRequestAcceptsJSONNumbers(t *testing.T) {
	body := `{"BHK":2,"Size":900.5,"Bathroom":2,"Floor_Num":-1,"Total_Floors":4,
		"Area Type":"Carpet Area","City":"Mumbai","Furnishing Status":"Unfurnished",
		"Tenant Preferred":"Family","Area_Locality_Simple":"Other","extra":"ignored"}`
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Size != 900.5 || req.FloorNum != -1 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestPredictCache(t *testing.T) {
	svc := newTestService(t, WithCache(8))

	first, err := svc.Predict(context.Background(), kolkataRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Predict(context.Background(), kolkataRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second || svc.cache.Len() != 1 {
		t.Fatalf("expected cached prediction, got %v and %v (len %d)", first, second, svc.cache.Len())
	}
}

func TestPredictCancelledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Predict(ctx, kolkataRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResponseJSON(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"success", Success(12345.67), `{"success":true,"predicted_rent":12345.67}`},
		{"zero rent", Success(0), `{"success":true,"predicted_rent":0}`},
		{"failure", Failure(errors.New("boom")), `{"success":false,"error":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	svc := newTestService(t)

	info := svc.Info()
	if len(info.Columns) != len(ml.ModelColumns()) {
		t.Fatalf("unexpected columns: %v", info.Columns)
	}
	if info.Localities[0] != ml.OtherLocality || len(info.Localities) != 5 {
		t.Fatalf("unexpected localities: %v", info.Localities)
	}
	if info.Metadata.ID == "" {
		t.Fatal("expected metadata id")
	}
}

func TestPredictConcurrent(t *testing.T) {
	svc := newTestService(t, WithCache(4))
	want, err := svc.Predict(context.Background(), kolkataRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Predict(context.Background(), kolkataRequest())
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("got %v, want %v", got, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
