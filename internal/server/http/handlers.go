package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/researchgenie/ai-service/internal/domain"
)

// Request body limits.
const (
	maxRequestBodySize = 1 << 20 // 1 MB

	// notifyTimeout bounds the async completion notification.
	notifyTimeout = 15 * time.Second
)

// refineQueryRequest is the JSON request body for POST /api/v1/refine-query.
type refineQueryRequest struct {
	Query string `json:"query" validate:"required,min=3,max=10000"`
}

// refineQueryResponse is the JSON response for query refinement.
type refineQueryResponse struct {
	OriginalQuery string `json:"original_query"`
	RefinedQuery  string `json:"refined_query"`
	WasRefined    bool   `json:"was_refined"`
}

// analyzePapersRequest is the JSON request body for POST /api/v1/analyze-papers.
type analyzePapersRequest struct {
	Query           string   `json:"query" validate:"required,min=3,max=10000"`
	EducationLevel  string   `json:"education_level" validate:"omitempty,oneof=beginner intermediate advanced"`
	Tasks           []string `json:"tasks" validate:"omitempty,max=3,dive,oneof=summary gap_analysis explanation"`
	DomainInterests []string `json:"domain_interests" validate:"omitempty,max=20,dive,min=1,max=100"`
}

// analyzePapersResponse is the JSON response for paper analysis.
type analyzePapersResponse struct {
	RequestID      string   `json:"request_id"`
	Summary        *string  `json:"summary"`
	ResearchGaps   []string `json:"research_gaps"`
	Explanation    *string  `json:"explanation"`
	EducationLevel string   `json:"education_level"`
	PapersAnalyzed int      `json:"papers_analyzed"`
	Warnings       []string `json:"warnings,omitempty"`
}

// refineQuery handles POST /api/v1/refine-query.
func (s *Server) refineQuery(w http.ResponseWriter, r *http.Request) {
	var req refineQueryRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	refined := s.refiner.Refine(req.Query)
	writeJSON(w, http.StatusOK, refineQueryResponse{
		OriginalQuery: req.Query,
		RefinedQuery:  refined.Text,
		WasRefined:    refined.WasRefined,
	})
}

// analyzePapers handles POST /api/v1/analyze-papers. It runs the full
// pipeline synchronously and notifies the Backend asynchronously afterwards.
func (s *Server) analyzePapers(w http.ResponseWriter, r *http.Request) {
	var req analyzePapersRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	level := domain.EducationLevel(req.EducationLevel)
	if req.EducationLevel == "" {
		level = domain.EducationIntermediate
	}

	tasks := make([]domain.AnalysisTask, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, domain.AnalysisTask(t))
	}

	requestID := middleware.GetReqID(r.Context())
	analysisReq := domain.AnalysisRequest{
		RawQuery: req.Query,
		Profile: domain.UserProfile{
			EducationLevel:  level,
			DomainInterests: req.DomainInterests,
		},
		Tasks: tasks,
	}

	output, err := s.analyzer.Analyze(r.Context(), analysisReq)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("analysis failed")
		s.notifyAsync(r.Context(), requestID, "failed", map[string]string{"error": err.Error()})
		s.writeAnalysisError(w, err)
		return
	}

	resp := analyzePapersResponse{
		RequestID:      requestID,
		Summary:        output.Summary,
		ResearchGaps:   output.ResearchGaps,
		Explanation:    output.Explanation,
		EducationLevel: string(level),
		PapersAnalyzed: output.PapersAnalyzed,
		Warnings:       output.Warnings,
	}

	status := "completed"
	if output.IsPartial() {
		status = "partial"
	}
	s.notifyAsync(r.Context(), requestID, status, resp)

	writeJSON(w, http.StatusOK, resp)
}

// decodeAndValidate reads the body, decodes JSON and applies struct
// validation, writing the 400 response itself on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage renders validator errors as a single readable message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" is too short")
		case "max":
			msgs = append(msgs, field+" is too long")
		case "oneof":
			msgs = append(msgs, field+" has an unsupported value")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// writeAnalysisError maps pipeline errors to HTTP status codes.
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	var perr *domain.PipelineError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNoPapersFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRetrievalFailed), errors.Is(err, domain.ErrAllTasksFailed):
		status = http.StatusBadGateway
	}

	body := map[string]any{"error": analysisErrorMessage(err)}
	if errors.As(err, &perr) && len(perr.Warnings) > 0 {
		body["warnings"] = perr.Warnings
	}
	writeJSON(w, status, body)
}

// analysisErrorMessage renders a pipeline error for clients without leaking
// transport internals.
func analysisErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoPapersFound):
		return "no papers found for the query"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return "analysis deadline exceeded"
	case errors.Is(err, domain.ErrRetrievalFailed):
		return "paper retrieval failed"
	case errors.Is(err, domain.ErrAllTasksFailed):
		return "all analysis tasks failed"
	}
	return "internal error"
}

// notifyAsync posts the completion notification without blocking the
// response. The notification context survives the request context so an
// already-answered request cannot cancel its own notification.
func (s *Server) notifyAsync(ctx context.Context, requestID, status string, payload any) {
	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	go func() {
		defer cancel()
		s.notifier.Notify(notifyCtx, requestID, status, payload)
	}()
}
