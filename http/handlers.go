package http

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"examscore/artifact"
	"examscore/db"
	"examscore/ml"
	"examscore/monitoring"
	"examscore/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

const defaultTrainingLogLimit = 20

// History 预测记录与训练日志
type History interface {
	SavePredictions(requestID string, inputs []ml.Record, scores []float64) error
	LoadTrainingLog(limit int) ([]db.TrainingLog, error)
}

// Handlers HTTP处理器
type Handlers struct {
	predictor ml.Predictor
	history   History
	schema    ml.Schema
	logger    *zap.Logger
	templates *template.Template
	metrics   *monitoring.MetricsCollector
}

// NewHandlers 创建处理器. history may be nil.
func NewHandlers(predictor ml.Predictor, history History, schema ml.Schema, logger *zap.Logger) (*Handlers, error) {
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handlers{
		predictor: predictor,
		history:   history,
		schema:    schema,
		logger:    logger,
		templates: templates,
	}, nil
}

// SetMetrics 设置指标收集器
func (h *Handlers) SetMetrics(m *monitoring.MetricsCollector) {
	h.metrics = m
}

func RegisterHandlers(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /predictdata", h.handlePredictPage)
	mux.HandleFunc("POST /predictdata", h.handlePredictForm)
	mux.HandleFunc("POST /api/predict", h.handlePredictAPI)
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/training_log", h.handleTrainingLog)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "index.html", nil)
}

// formOptions 表单下拉选项
type formOptions struct {
	Gender                   []string
	RaceEthnicity            []string
	ParentalLevelOfEducation []string
	Lunch                    []string
	TestPreparationCourse    []string
}

var studentFormOptions = formOptions{
	Gender:        []string{"male", "female"},
	RaceEthnicity: []string{"group A", "group B", "group C", "group D", "group E"},
	ParentalLevelOfEducation: []string{
		"associate's degree", "bachelor's degree", "high school",
		"master's degree", "some college", "some high school",
	},
	Lunch:                 []string{"free/reduced", "standard"},
	TestPreparationCourse: []string{"none", "completed"},
}

type homePage struct {
	Form pipeline.CustomData
	Raw  struct {
		ReadingScore string
		WritingScore string
	}
	Options   formOptions
	Error     string
	HasResult bool
	Result    float64
}

func (h *Handlers) handlePredictPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "home.html", homePage{Options: studentFormOptions})
}

func (h *Handlers) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	start, status := time.Now(), http.StatusOK
	defer func() { h.observe(1, start, status) }()

	page := homePage{Options: studentFormOptions}
	if err := r.ParseForm(); err != nil {
		status = http.StatusBadRequest
		page.Error = "invalid form submission"
		h.render(w, status, "home.html", page)
		return
	}

	page.Form = pipeline.CustomData{
		Gender:                   r.PostForm.Get("gender"),
		RaceEthnicity:            r.PostForm.Get("ethnicity"),
		ParentalLevelOfEducation: r.PostForm.Get("parental_level_of_education"),
		Lunch:                    r.PostForm.Get("lunch"),
		TestPreparationCourse:    r.PostForm.Get("test_preparation_course"),
	}
	page.Raw.ReadingScore = r.PostForm.Get("reading_score")
	page.Raw.WritingScore = r.PostForm.Get("writing_score")

	var err error
	if page.Form.ReadingScore, err = formScore(r.PostForm, "reading_score"); err == nil {
		page.Form.WritingScore, err = formScore(r.PostForm, "writing_score")
	}
	if err != nil {
		status = http.StatusBadRequest
		page.Error = err.Error()
		h.render(w, status, "home.html", page)
		return
	}

	records := []ml.Record{page.Form.ToRecord()}
	scores, err := h.predictor.Predict(r.Context(), records)
	if err != nil {
		status, page.Error = h.classify(r, err)
		h.render(w, status, "home.html", page)
		return
	}
	h.record(r, records, scores)

	page.HasResult = true
	page.Result = scores[0]
	h.render(w, http.StatusOK, "home.html", page)
}

func formScore(form url.Values, field string) (float64, error) {
	raw := strings.TrimSpace(form.Get(field))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number, got %q", field, raw)
	}
	return v, nil
}

type predictRequest struct {
	Records []map[string]any `json:"records"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

func (h *Handlers) handlePredictAPI(w http.ResponseWriter, r *http.Request) {
	start, status, n := time.Now(), http.StatusOK, 0
	defer func() { h.observe(n, start, status) }()

	var req predictRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			writeJSONError(w, status, "request body too large")
			return
		}
		status = http.StatusBadRequest
		writeJSONError(w, status, "invalid request body: "+err.Error())
		return
	}
	if req.Records == nil {
		status = http.StatusBadRequest
		writeJSONError(w, status, "records is required")
		return
	}

	records, err := h.decodeRecords(req.Records)
	if err != nil {
		status = http.StatusBadRequest
		writeJSONError(w, status, err.Error())
		return
	}
	scores, err := h.predictor.Predict(r.Context(), records)
	if err != nil {
		var msg string
		status, msg = h.classify(r, err)
		writeJSONError(w, status, msg)
		return
	}
	n = len(scores)
	h.record(r, records, scores)
	respondJSON(w, http.StatusOK, predictResponse{Predictions: scores})
}

// decodeRecords turns JSON objects into raw records. Strings are parsed per
// column the same way CSV cells are; null is missing.
func (h *Handlers) decodeRecords(in []map[string]any) ([]ml.Record, error) {
	out := make([]ml.Record, len(in))
	for i, obj := range in {
		rec := make(ml.Record, len(obj))
		for column, v := range obj {
			switch v := v.(type) {
			case nil:
				rec[column] = ml.Missing()
			case float64:
				rec[column] = ml.Number(v)
			case string:
				rec[column] = h.schema.ParseCell(column, v)
			default:
				return nil, &ml.InvalidValueError{Column: column, Row: i, Value: fmt.Sprint(v)}
			}
		}
		out[i] = rec
	}
	return out, nil
}

func (h *Handlers) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "training log unavailable")
		return
	}
	limit := defaultTrainingLogLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	logs, err := h.history.LoadTrainingLog(limit)
	if err != nil {
		h.logger.Error("load training log failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSONError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	if r.URL.Query().Get("format") == "prometheus" {
		text, err := h.metrics.ExportPrometheus()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(text))
		return
	}
	snapshot, err := h.metrics.GetSnapshot()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handlers) observe(records int, start time.Time, status int) {
	if h.metrics != nil {
		h.metrics.RecordPrediction(records, time.Since(start), status)
	}
}

// classify maps a prediction error to a status code and a client message.
func (h *Handlers) classify(r *http.Request, err error) (int, string) {
	status := statusFor(err)
	fields := []zap.Field{zap.String("request_id", GetRequestID(r.Context())), zap.Error(err)}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("prediction failed", fields...)
		return status, "prediction failed"
	}
	h.logger.Warn("prediction rejected", fields...)
	if errors.Is(err, pipeline.ErrArtifactMismatch) {
		return status, "model artifacts are being replaced, retry shortly"
	}
	if status == http.StatusServiceUnavailable {
		return status, "model is not available, run training first"
	}
	return status, err.Error()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrMissingColumn),
		errors.Is(err, ml.ErrInvalidValue),
		errors.Is(err, ml.ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, pipeline.ErrArtifactMismatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) record(r *http.Request, records []ml.Record, scores []float64) {
	if h.history == nil {
		return
	}
	if err := h.history.SavePredictions(GetRequestID(r.Context()), records, scores); err != nil {
		h.logger.Warn("save predictions failed", zap.Error(err))
	}
}

func (h *Handlers) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("render template failed", zap.String("template", name), zap.Error(err))
	}
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
