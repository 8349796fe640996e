package webhook

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/podindex/trunk/pkg/metrics"
)

// Handler returns the webhook endpoint handler. Deliveries arrive as
// form-encoded bodies with a JSON payload field. The endpoint always
// answers quickly: import work happens synchronously against the local
// database, but file fetches that fail are logged and skipped rather than
// reflected in the response, and irrelevant deliveries are acknowledged
// with a 200 no-op so the remote never retries them.
func Handler(importer *Importer, m metrics.Metrics) http.HandlerFunc {
	if m == nil {
		m = metrics.Noop{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/x-www-form-urlencoded" {
			writeError(w, http.StatusUnsupportedMediaType, "expected a form-encoded body")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusUnsupportedMediaType, "unable to parse form body")
			return
		}
		raw := r.PostFormValue("payload")
		if raw == "" {
			writeError(w, http.StatusUnsupportedMediaType, "missing payload field")
			return
		}

		payload, err := ParsePayload(raw)
		if payload == nil && err == nil {
			writeError(w, http.StatusUnsupportedMediaType, "payload is not valid JSON")
			return
		}
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "payload does not match the push-event shape")
			return
		}

		// Ping events carry no head commit; other branches are not ours.
		// Both are fine, just irrelevant.
		if payload.HeadCommit == nil {
			m.IncWebhookIgnored("ping")
			w.WriteHeader(http.StatusOK)
			return
		}
		if !importer.Relevant(payload) {
			m.IncWebhookIgnored("branch")
			w.WriteHeader(http.StatusOK)
			return
		}

		importer.ProcessPayload(r.Context(), payload)
		w.WriteHeader(http.StatusOK)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
