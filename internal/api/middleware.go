package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/org/phigate/internal/csrf"
	"github.com/org/phigate/pkg/models"
	"github.com/rs/zerolog/log"
)

const csrfHeader = "X-CSRF-Token"

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// authMiddleware validates the Bearer session token and attaches the session
// to context. Rejections are deliberately uniform: the client learns the
// session is bad, not why.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if bearer == "" || bearer == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		session, err := s.sessions.Validate(r.Context(), bearer)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

// csrfMiddleware enforces the X-CSRF-Token header on state-changing methods.
// A denial is itself an auditable event: the gateway is never reached, so
// the record is written here.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		session := sessionFromCtx(r.Context())
		reason := csrf.ReasonMalformed
		raw := r.Header.Get(csrfHeader)
		if raw != "" {
			token, err := csrf.Decode(raw)
			if err == nil {
				err = s.csrf.Validate(token, session.ID)
			}
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			var verr *csrf.ValidationError
			if errors.As(err, &verr) {
				reason = verr.Reason
			}
		}

		csrfFailuresTotal.WithLabelValues(string(reason)).Inc()
		s.auditor.Record(r.Context(), models.AuditError, models.OutcomeFailure,
			actorFromCtx(r.Context()), "csrf", "", map[string]string{
				"reason":     string(reason),
				"path":       r.URL.Path,
				"request_id": requestIDFromCtx(r.Context()),
			})
		// Expired is the one retryable case; everything else looks the same
		// to the client.
		if reason == csrf.ReasonExpired {
			writeError(w, http.StatusForbidden, "csrf token expired")
			return
		}
		writeError(w, http.StatusForbidden, "csrf token invalid")
	})
}

// rateLimitMiddleware counts the request against the session actor (or the
// client IP before authentication) under the given action. A denial never
// reaches the gateway — and never triggers decryption — but is audited.
func (s *Server) rateLimitMiddleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := clientIP(r)
			if session := sessionFromCtx(r.Context()); session != nil {
				identifier = session.ActorID
			}

			res := s.limiter.Check(identifier, action)
			if res.Allowed {
				if !res.Rule.Sensitive {
					w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				}
				next.ServeHTTP(w, r)
				return
			}

			rateLimitDenialsTotal.WithLabelValues(action).Inc()
			log.Warn().Str("identifier", identifier).Str("action", action).Msg("rate limit exceeded")
			s.auditor.Record(r.Context(), models.AuditError, models.OutcomeFailure,
				actorFromCtx(r.Context()), "ratelimit", "", map[string]string{
					"action":     action,
					"request_id": requestIDFromCtx(r.Context()),
				})

			w.Header().Set("Retry-After", strconv.FormatInt(res.ResetAt.Unix(), 10))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
