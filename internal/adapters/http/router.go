package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kirillkom/symptom-assistant/internal/config"
	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/symptom-assistant/internal/observability/metrics"
)

const (
	serviceName    = "api"
	maxRequestBody = 64 << 10
	xlsxMimeType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Dependencies are the use cases and health checks served by the router. Nil
// optional fields switch the matching endpoint off.
type Dependencies struct {
	Submitter ports.AnalysisSubmitter
	Processor ports.AnalysisProcessor
	Reader    ports.AnalysisReader
	Exporter  ports.AnalysisExporter
	Chat      ports.ChatService

	Metrics        *metrics.HTTPServerMetrics
	Breakers       func() []resilience.BreakerState
	QueueConnected func() bool
	MCP            http.Handler
}

type Router struct {
	cfg       config.Config
	deps      Dependencies
	validator *requestValidator
}

func NewRouter(cfg config.Config, deps Dependencies) (*Router, error) {
	validator, err := newRequestValidator(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("build request validator: %w", err)
	}
	return &Router{cfg: cfg, deps: deps, validator: validator}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(requestIDMiddleware, accessLogMiddleware)
	if rt.deps.Metrics != nil {
		mux.Use(func(next http.Handler) http.Handler {
			return rt.deps.Metrics.Middleware(serviceName, next)
		})
	}
	if len(rt.cfg.CORSAllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader, rt.ownerHeader()},
			ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	mux.Get("/healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())
	}

	api := chi.NewRouter()
	api.Route("/v1", func(v1 chi.Router) {
		v1.Post("/analyses", rt.submitAnalysis)
		v1.Get("/analyses", rt.listAnalyses)
		v1.Get("/analyses/stats", rt.analysisStats)
		v1.Get("/analyses/export.xlsx", rt.exportAnalyses)
		v1.Get("/analyses/{id}", rt.getAnalysis)
		v1.Post("/analyses/{id}/enrich", rt.enrichAnalysis)
		v1.Post("/chat", rt.chat)
		v1.Get("/symptoms/common", rt.commonSymptoms)
	})
	if rt.deps.MCP != nil {
		api.Handle("/mcp", rt.deps.MCP)
	}

	// Wrapped once so every route shares one limiter and one in-flight gate.
	validated := bodyLimitMiddleware(rt.validator.middleware(api), maxRequestBody)
	protected := principalMiddleware(rt.ownerHeader(), rt.cfg.APIKey, validated)
	mux.Mount("/", rt.trafficControl(protected))

	return mux
}

func (rt *Router) ownerHeader() string {
	if rt.cfg.AuthOwnerHeader == "" {
		return "X-Owner-Id"
	}
	return rt.cfg.AuthOwnerHeader
}

func (rt *Router) trafficControl(next http.Handler) http.Handler {
	var onReject rejectionRecorder
	if rt.deps.Metrics != nil {
		onReject = func(reason string) { rt.deps.Metrics.RecordRejected(serviceName, reason) }
	}
	wait := time.Duration(rt.cfg.APIBackpressureMS) * time.Millisecond
	limited := backpressureMiddleware(next, rt.cfg.APIMaxInFlight, wait, onReject)
	return rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
}

type healthResponse struct {
	Status   string                    `json:"status"`
	Queue    string                    `json:"queue,omitempty"`
	Breakers []resilience.BreakerState `json:"breakers,omitempty"`
}

// healthz always answers 200 while the process is up; degraded dependencies
// are reported in the body.
func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if rt.deps.QueueConnected != nil {
		resp.Queue = "connected"
		if !rt.deps.QueueConnected() {
			resp.Queue = "disconnected"
			resp.Status = "degraded"
		}
	}
	if rt.deps.Breakers != nil {
		resp.Breakers = rt.deps.Breakers()
		for _, b := range resp.Breakers {
			if b.State != "closed" {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitAnalysisBody struct {
	Symptoms    []string `json:"symptoms"`
	Description string   `json:"description"`
	Age         string   `json:"age"`
	Weight      string   `json:"weight"`
	Gender      string   `json:"gender"`
	Allergies   string   `json:"allergies"`
	Medications string   `json:"medications"`
}

func (rt *Router) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var body submitAnalysisBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := rt.deps.Submitter.Submit(r.Context(), domain.SubmitAnalysisRequest{
		OwnerID:  OwnerFromContext(r.Context()),
		Symptoms: body.Symptoms,
		PatientDetails: domain.PatientDetails{
			Description: body.Description,
			Age:         body.Age,
			Weight:      body.Weight,
			Gender:      body.Gender,
			Allergies:   body.Allergies,
			Medications: body.Medications,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (rt *Router) listAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := rt.deps.Reader.List(r.Context(), OwnerFromContext(r.Context()), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) getAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := rt.deps.Reader.Get(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) enrichAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := rt.deps.Processor.ProcessForOwner(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) analysisStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.deps.Reader.Stats(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) exportAnalyses(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := rt.deps.Exporter.Export(r.Context(), OwnerFromContext(r.Context()), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxMimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="analyses.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.OwnerID = OwnerFromContext(r.Context())

	reply, err := rt.deps.Chat.Reply(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (rt *Router) commonSymptoms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symptoms": domain.CommonSymptoms})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.WrapError(domain.ErrValidation, "decode body", fmt.Errorf("body exceeds %d bytes", maxErr.Limit))
		}
		return domain.WrapError(domain.ErrValidation, "decode body", errors.New("invalid json"))
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.WrapError(domain.ErrValidation, "parse query", fmt.Errorf("%s must be an integer", key))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
