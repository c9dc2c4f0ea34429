package api

import (
	"net/http"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	pending := s.auditor.PendingCount()
	auditPending.Set(float64(pending))

	code := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": "1.0.0",
	}
	if pending > 0 {
		// Records are accumulating in memory: the audit sink is down.
		body["status"] = "degraded"
		body["audit_pending"] = pending
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}
