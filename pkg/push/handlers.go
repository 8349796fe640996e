package push

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/podindex/trunk/pkg/auth"
)

// maxSpecBody bounds the accepted push body size.
const maxSpecBody = 2 << 20

// PushHandler returns the handler for POST /api/v1/pods: an Add push of a
// spec JSON body by the authenticated owner.
func PushHandler(pipeline *Pipeline) http.HandlerFunc {
	return pushOperationHandler(pipeline, OpAdd)
}

// DeprecateHandler returns the handler for PATCH /api/v1/pods: an
// update-in-place push of the deprecated spec.
func DeprecateHandler(pipeline *Pipeline) http.HandlerFunc {
	return pushOperationHandler(pipeline, OpDeprecate)
}

func pushOperationHandler(pipeline *Pipeline, op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "a bearer token is required")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unable to read request body")
			return
		}

		result := pipeline.Push(r.Context(), rc.Owner, op, body)
		writeResult(w, result)
	}
}

// DeleteHandler returns the handler for
// DELETE /api/v1/pods/{name}/versions/{version}.
func DeleteHandler(pipeline *Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "a bearer token is required")
			return
		}
		name := chi.URLParam(r, "name")
		version := chi.URLParam(r, "version")

		result := pipeline.Delete(r.Context(), rc.Owner, name, version)
		writeResult(w, result)
	}
}

// writeResult translates a terminal pipeline result into the HTTP
// response: Location headers for redirects and conflicts, structured lint
// output on 422, a JSON error body otherwise.
func writeResult(w http.ResponseWriter, result Result) {
	if result.Location != "" {
		w.Header().Set("Location", result.Location)
	}

	switch {
	case result.Status == http.StatusNoContent:
		w.WriteHeader(result.Status)
	case result.Status == http.StatusFound:
		writeJSON(w, result.Status, map[string]string{"url": result.Location})
	case result.Lint != nil:
		writeJSON(w, result.Status, map[string]any{
			"error":    result.Message,
			"warnings": result.Lint.Warnings,
			"errors":   result.Lint.Errors,
		})
	default:
		writeError(w, result.Status, result.Message)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
