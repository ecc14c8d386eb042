package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/carewire/triage/model"
)

// maxBodySize bounds intake payloads; classifier events are small.
const maxBodySize = 1 << 20

// classificationResponse returns the committed case state plus the assessment
// this submission produced. Immediate actions are still pending at this point.
type classificationResponse struct {
	Case       model.Case              `json:"case"`
	Assessment model.TriageAssessment  `json:"assessment"`
	Actions    []model.ScheduledAction `json:"actions"`
}

func handleSubmitClassification(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev model.ClassifierEvent
		body := io.LimitReader(r.Body, maxBodySize)
		if err := json.NewDecoder(body).Decode(&ev); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		// Allow the event ID from a header as fallback.
		if ev.EventID == "" {
			ev.EventID = r.Header.Get("X-Idempotency-Key")
		}

		detail, err := engine.SubmitClassification(r.Context(), ev)
		if err != nil {
			WriteError(w, err)
			return
		}

		resp := classificationResponse{
			Case:    detail.Case,
			Actions: detail.Actions,
		}
		if len(detail.Assessments) > 0 {
			resp.Assessment = detail.Assessments[len(detail.Assessments)-1]
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}
