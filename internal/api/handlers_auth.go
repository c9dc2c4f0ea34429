package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/org/phigate/internal/csrf"
	"github.com/org/phigate/pkg/models"
)

// SessionIssueHandler handles POST /v1/auth/session. Identity is established
// upstream; the caller proves it with the shared provisioning key and names
// the actor the session is for.
func (s *Server) SessionIssueHandler(w http.ResponseWriter, r *http.Request) {
	provided := r.Header.Get("X-Provision-Key")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.ProvisionKey)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		ActorID string `json:"actor_id"`
		Role    string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id and role required")
		return
	}

	session, token, err := s.sessions.Issue(r.Context(), models.Actor{ID: req.ActorID, Role: models.Role(req.Role)})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid actor")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"session_id": session.ID,
			"token":      token,
			"expires_at": session.ExpiresAt.UTC().Format(timeFormat),
		},
	})
}

// SessionRevokeHandler handles DELETE /v1/auth/session. A session can only
// revoke itself.
func (s *Server) SessionRevokeHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())
	if err := s.sessions.Revoke(r.Context(), session.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CSRFIssueHandler handles GET /v1/session/csrf. Each call mints a fresh
// token bound to the calling session; previously issued tokens stay valid
// until they expire.
func (s *Server) CSRFIssueHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())

	token, err := s.csrf.Issue(session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"token":      csrf.Encode(token),
			"expires_at": token.ExpiresAt.UTC().Format(timeFormat),
		},
	})
}
