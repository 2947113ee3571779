package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"rentpredict/inference"
	"rentpredict/monitoring"
)

// Handlers serves the prediction API from one injected Service.
type Handlers struct {
	svc     *inference.Service
	logger  *zap.Logger
	metrics *monitoring.Metrics
	ws      *predictStream
}

func NewHandlers(svc *inference.Service, logger *zap.Logger, metrics *monitoring.Metrics, allowedOrigins []string, maxFrameBytes int64) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{svc: svc, logger: logger, metrics: metrics}
	h.ws = newPredictStream(h, allowedOrigins, maxFrameBytes)
	return h
}

// Routes lists every registered path, used to label metrics.
func Routes() []string {
	return []string{"/api/health", "/predict", "/api/predict", "/api/localities", "/api/model", "/api/ws/predict", "/metrics"}
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("GET /api/localities", h.handleLocalities)
	mux.HandleFunc("GET /api/model", h.handleModel)
	mux.HandleFunc("GET /api/ws/predict", h.ws.serve)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"model_id": h.svc.Info().Metadata.ID,
	})
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	raw, err := readObject(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.observe(monitoring.OutcomeInvalid, 0)
		writeJSON(w, status, inference.Failure(err))
		return
	}

	resp := h.predict(r.Context(), raw)
	writeJSON(w, statusFor(resp), resp)
}

func (h *Handlers) handleLocalities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"localities": h.svc.Localities()})
}

func (h *Handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Info())
}

// predict runs one request through the service and records its outcome.
func (h *Handlers) predict(ctx context.Context, raw map[string]any) inference.Response {
	start := time.Now()
	resp := h.svc.PredictRent(ctx, raw)

	outcome := monitoring.OutcomeSuccess
	switch {
	case resp.Success:
	case inference.IsValidation(resp.Err):
		outcome = monitoring.OutcomeInvalid
	default:
		outcome = monitoring.OutcomeError
		h.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(ctx)),
			zap.Error(resp.Err),
		)
	}
	h.observe(outcome, time.Since(start))
	return resp
}

func (h *Handlers) observe(outcome string, d time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordPrediction(outcome, d)
	}
}

func statusFor(resp inference.Response) int {
	switch {
	case resp.Success:
		return http.StatusOK
	case inference.IsValidation(resp.Err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func readObject(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decodeObject(data)
}

// decodeObject parses one JSON object, keeping numbers as json.Number so
// integers survive unchanged.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, bodyError(fmt.Sprintf("must be a JSON object (%v)", err))
	}
	if raw == nil {
		return nil, bodyError("must be a JSON object")
	}
	return raw, nil
}

func bodyError(reason string) error {
	return &inference.ValidationError{Invalid: []inference.FieldError{{Field: "body", Reason: reason}}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
