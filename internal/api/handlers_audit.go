package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/phigate/internal/storage"
	"github.com/org/phigate/pkg/models"
)

// requireAdmin gates the audit endpoints. Non-admin callers get the same
// opaque denial as a policy rejection.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if actorFromCtx(r.Context()).Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "request denied")
		return false
	}
	return true
}

// AuditLogHandler handles GET /v1/sys/audit-log (admin only).
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	filter := storage.AuditFilter{
		Entity:  r.URL.Query().Get("entity"),
		ActorID: r.URL.Query().Get("actor_id"),
		Limit:   100,
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = &ts
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	filter.Ascending = r.URL.Query().Get("order") == "asc"

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	auditPending.Set(float64(s.auditor.PendingCount()))
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"entries": entries,
			"count":   len(entries),
		},
	})
}

// AuditVerifyHandler handles GET /v1/sys/audit-log/verify (admin only).
// Walks the full chain and reports the first broken link, if any.
func (s *Server) AuditVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	ok, breakIndex, count, err := s.auditor.Verify(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	body := map[string]any{
		"intact":  ok,
		"records": count,
	}
	if !ok {
		body["break_index"] = breakIndex
	}
	auditPending.Set(float64(s.auditor.PendingCount()))
	writeJSON(w, http.StatusOK, map[string]any{"data": body})
}
