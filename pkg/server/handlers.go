package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podindex/trunk/pkg/auth"
	"github.com/podindex/trunk/pkg/registry"
)

// ownerResponse is the API shape of an owner.
type ownerResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// versionResponse is the API shape of a version.
type versionResponse struct {
	Name      string  `json:"name"`
	Deleted   bool    `json:"deleted"`
	CommitSHA *string `json:"commit_sha"`
	CreatedAt string  `json:"created_at"`
}

// podResponse is the API shape of a pod.
type podResponse struct {
	Name      string            `json:"name"`
	Deleted   bool              `json:"deleted"`
	Owners    []ownerResponse   `json:"owners"`
	Versions  []versionResponse `json:"versions"`
	CreatedAt string            `json:"created_at"`
}

// GetPodHandler returns a handler that serves a pod with its owners and
// versions.
func GetPodHandler(pods *registry.PodStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		pod, err := pods.FindByName(name, false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load pod")
			return
		}
		if pod == nil {
			writeError(w, http.StatusNotFound, "no pod found with the name `"+name+"`")
			return
		}
		versions, err := pods.ListVersions(pod, false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load versions")
			return
		}

		resp := podResponse{
			Name:      pod.Name,
			Deleted:   pod.Deleted,
			CreatedAt: pod.CreatedAt.Format(time.RFC3339),
			Owners:    make([]ownerResponse, 0, len(pod.Owners)),
			Versions:  make([]versionResponse, 0, len(versions)),
		}
		for _, o := range pod.Owners {
			resp.Owners = append(resp.Owners, ownerResponse{Email: o.Email, Name: o.Name})
		}
		for _, v := range versions {
			resp.Versions = append(resp.Versions, versionResponse{
				Name:      v.Name,
				Deleted:   v.Deleted,
				CommitSHA: v.CommitSHA,
				CreatedAt: v.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// commitResponse is the API shape of a commit.
type commitResponse struct {
	SHA       string `json:"sha"`
	Imported  bool   `json:"imported"`
	CreatedAt string `json:"created_at"`
}

// logMessageResponse is the API shape of a log message.
type logMessageResponse struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// GetVersionHandler returns a handler that serves a version with its
// commit history and log trail.
func GetVersionHandler(pods *registry.PodStore, commits *registry.CommitStore, logs *registry.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		versionName := chi.URLParam(r, "version")

		pod, err := pods.FindByName(name, false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load pod")
			return
		}
		if pod == nil {
			writeError(w, http.StatusNotFound, "no pod found with the name `"+name+"`")
			return
		}
		version, err := pods.FindVersion(pod, versionName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load version")
			return
		}
		if version == nil {
			writeError(w, http.StatusNotFound, "no version `"+versionName+"` found for pod `"+name+"`")
			return
		}

		versionCommits, err := commits.ListByVersion(version)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load commits")
			return
		}
		messages, err := logs.ListByVersion(version.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load log messages")
			return
		}

		commitResponses := make([]commitResponse, 0, len(versionCommits))
		for _, c := range versionCommits {
			commitResponses = append(commitResponses, commitResponse{
				SHA:       c.SHA,
				Imported:  c.Imported,
				CreatedAt: c.CreatedAt.Format(time.RFC3339),
			})
		}
		messageResponses := make([]logMessageResponse, 0, len(messages))
		for _, m := range messages {
			messageResponses = append(messageResponses, logMessageResponse{
				Level:     string(m.Level),
				Message:   m.Message,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"name":      version.Name,
			"deleted":   version.Deleted,
			"published": len(versionCommits) > 0,
			"commits":   commitResponses,
			"messages":  messageResponses,
		})
	}
}

// AddOwnerHandler returns a handler that attaches an owner to a pod the
// acting owner already owns. The target owner is created when absent.
func AddOwnerHandler(pods *registry.PodStore, owners *registry.OwnerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "a bearer token is required")
			return
		}
		name := chi.URLParam(r, "name")

		var body struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
			writeError(w, http.StatusUnprocessableEntity, "an owner email is required")
			return
		}

		pod, err := resolveOwnedPod(w, pods, name, rc.Owner)
		if pod == nil || err != nil {
			return
		}

		target, err := owners.FindOrCreateByEmail(body.Email, body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve owner")
			return
		}
		if err := pods.AddOwner(pod, target); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add owner")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"email": target.Email, "name": target.Name})
	}
}

// RemoveOwnerHandler returns a handler that detaches an owner from a pod.
// Removing the last owner leaves the pod with the unclaimed sentinel.
func RemoveOwnerHandler(pods *registry.PodStore, owners *registry.OwnerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "a bearer token is required")
			return
		}
		name := chi.URLParam(r, "name")
		email := chi.URLParam(r, "email")

		pod, err := resolveOwnedPod(w, pods, name, rc.Owner)
		if pod == nil || err != nil {
			return
		}

		target, err := owners.FindByEmail(email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve owner")
			return
		}
		if target == nil {
			writeError(w, http.StatusNotFound, "no owner found with the email `"+email+"`")
			return
		}
		if err := pods.RemoveOwner(pod, target); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to remove owner")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// resolveOwnedPod loads a pod the acting owner must own, writing the
// appropriate error response otherwise.
func resolveOwnedPod(w http.ResponseWriter, pods *registry.PodStore, name string, owner *registry.Owner) (*registry.Pod, error) {
	pod, err := pods.FindByNameAndOwner(name, owner)
	if err != nil {
		if ownErr, ok := err.(*registry.OwnershipError); ok {
			writeError(w, http.StatusForbidden, ownErr.Error())
			return nil, err
		}
		writeError(w, http.StatusInternalServerError, "failed to load pod")
		return nil, err
	}
	if pod == nil {
		writeError(w, http.StatusNotFound, "no pod found with the name `"+name+"`")
		return nil, nil
	}
	return pod, nil
}

// CreateDisputeHandler returns a handler that opens an ownership dispute
// raised by the authenticated owner.
func CreateDisputeHandler(disputes *registry.DisputeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "a bearer token is required")
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
			writeError(w, http.StatusUnprocessableEntity, "a dispute message is required")
			return
		}
		dispute, err := disputes.Create(rc.Owner, body.Message)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create dispute")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":      dispute.ID,
			"settled": dispute.Settled,
		})
	}
}

// ListDisputesHandler returns a handler that lists disputes for operators.
func ListDisputesHandler(disputes *registry.DisputeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unsettledOnly := r.URL.Query().Get("unsettled") == "true"
		list, err := disputes.List(unsettledOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list disputes")
			return
		}
		out := make([]map[string]any, 0, len(list))
		for _, d := range list {
			entry := map[string]any{
				"id":      d.ID,
				"message": d.Message,
				"settled": d.Settled,
			}
			if d.Claimer != nil {
				entry["claimer"] = d.Claimer.Email
			}
			out = append(out, entry)
		}
		writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
	}
}

// SettleDisputeHandler returns a handler that settles a dispute.
func SettleDisputeHandler(disputes *registry.DisputeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		dispute, err := disputes.FindByID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load dispute")
			return
		}
		if dispute == nil {
			writeError(w, http.StatusNotFound, "no dispute found with the id `"+id+"`")
			return
		}
		if err := disputes.Settle(dispute); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to settle dispute")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": dispute.ID, "settled": true})
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
