package autopilot

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/trackpilot/core/autopilot/journal"
)

// NewJournalHandler returns an HTTP handler exposing journal records via GET /api/journal.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func NewJournalHandler(store journal.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		q := journal.Query{}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		q.LocomotiveID = r.URL.Query().Get("locomotive")
		if k := r.URL.Query().Get("kind"); k != "" {
			kind, ok := kindFromString(k)
			if !ok {
				http.Error(w, "unknown kind "+k, http.StatusBadRequest)
				return
			}
			q.Kind = kind
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []journal.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func kindFromString(s string) (journal.Kind, bool) {
	switch journal.Kind(s) {
	case journal.KindLeg, journal.KindGhost, journal.KindReset:
		return journal.Kind(s), true
	default:
		return "", false
	}
}
