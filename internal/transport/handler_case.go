package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carewire/triage/model"
)

// Engine is the orchestrator surface the transport layer depends on.
type Engine interface {
	SubmitClassification(ctx context.Context, ev model.ClassifierEvent) (model.CaseDetail, error)
	GetCase(ctx context.Context, caseID string) (model.CaseDetail, error)
	ListActive(ctx context.Context, filters model.CaseFilters) ([]model.CaseDetail, error)
	Events(ctx context.Context, caseID string) ([]model.CaseEvent, error)
	Reopen(ctx context.Context, caseID, comment string) (model.Case, error)
	Resolve(ctx context.Context, caseID, comment string) (model.Case, error)
	Close(ctx context.Context, caseID, comment string) (model.Case, error)
}

func handleGetCase(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := engine.GetCase(r.Context(), chi.URLParam(r, "caseId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func handleListCases(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filters := model.CaseFilters{
			Priority:      q.Get("priority"),
			AttentionOnly: q.Get("attention") == "true",
		}
		if filters.Priority != "" && !model.IsValidPriority(filters.Priority) {
			WriteValidationError(w, []model.FieldError{{
				Field:   "priority",
				Code:    "invalid_enum",
				Message: "unknown priority level",
			}})
			return
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				filters.Limit = n
			}
		}
		if v := q.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				filters.Offset = n
			}
		}

		cases, err := engine.ListActive(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}

		type listResponse struct {
			Cases []model.CaseDetail `json:"cases"`
			Count int                `json:"count"`
		}
		WriteJSON(w, http.StatusOK, listResponse{Cases: cases, Count: len(cases)})
	}
}

func handleCaseEvents(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := engine.Events(r.Context(), chi.URLParam(r, "caseId"))
		if err != nil {
			WriteError(w, err)
			return
		}

		type eventsResponse struct {
			Events []model.CaseEvent `json:"events"`
		}
		WriteJSON(w, http.StatusOK, eventsResponse{Events: events})
	}
}

// lifecycleRequest carries the optional staff comment recorded on the audit
// trail for reopen/resolve/close.
type lifecycleRequest struct {
	Reason string `json:"reason"`
}

type lifecycleOp func(ctx context.Context, caseID, comment string) (model.Case, error)

func handleLifecycle(op lifecycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lifecycleRequest
		// The body is optional; anything unparseable is a client error.
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && err != io.EOF {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		c, err := op(r.Context(), chi.URLParam(r, "caseId"), req.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}
