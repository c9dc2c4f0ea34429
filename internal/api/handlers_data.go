package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/phigate/internal/gateway"
	"github.com/org/phigate/internal/storage"
	"github.com/org/phigate/pkg/models"
)

type recordResponse struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	Fields    map[string]any `json:"fields"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func presentRecord(rec *models.Record) recordResponse {
	return recordResponse{
		ID:        rec.ID,
		Entity:    rec.Entity,
		Fields:    rec.Fields,
		CreatedAt: rec.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: rec.UpdatedAt.UTC().Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// writeGatewayError maps gateway and storage errors onto HTTP responses.
// Policy denials and integrity failures are indistinguishable on the wire.
func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrDenied):
		writeError(w, http.StatusForbidden, "request denied")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// DataListHandler handles GET /v1/data/{entity}. Query parameters are
// equality filters; the gateway denies any filter key the caller's role may
// not read.
func (s *Server) DataListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	entity := chi.URLParam(r, "entity")

	filter := map[string]any{}
	for key, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		filter[key] = vals[0]
	}

	records, err := s.gateway.Read(r.Context(), entity, filter, actor)
	if err != nil {
		gatewayOperationsTotal.WithLabelValues(entity, "READ", "failure").Inc()
		writeGatewayError(w, err)
		return
	}
	gatewayOperationsTotal.WithLabelValues(entity, "READ", "success").Inc()

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, presentRecord(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// DataGetHandler handles GET /v1/data/{entity}/{id}
func (s *Server) DataGetHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	entity := chi.URLParam(r, "entity")
	id := chi.URLParam(r, "id")

	records, err := s.gateway.Read(r.Context(), entity, map[string]any{"id": id}, actor)
	if err != nil {
		gatewayOperationsTotal.WithLabelValues(entity, "READ", "failure").Inc()
		writeGatewayError(w, err)
		return
	}
	if len(records) == 0 {
		gatewayOperationsTotal.WithLabelValues(entity, "READ", "failure").Inc()
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	gatewayOperationsTotal.WithLabelValues(entity, "READ", "success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"data": presentRecord(records[0])})
}

// DataCreateHandler handles POST /v1/data/{entity}
func (s *Server) DataCreateHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	entity := chi.URLParam(r, "entity")

	var req struct {
		Fields map[string]any `json:"fields"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields required")
		return
	}

	rec, err := s.gateway.Create(r.Context(), entity, req.Fields, actor)
	if err != nil {
		gatewayOperationsTotal.WithLabelValues(entity, "CREATE", "failure").Inc()
		writeGatewayError(w, err)
		return
	}
	gatewayOperationsTotal.WithLabelValues(entity, "CREATE", "success").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"data": presentRecord(rec)})
}

// DataUpdateHandler handles PATCH /v1/data/{entity}/{id}
func (s *Server) DataUpdateHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	entity := chi.URLParam(r, "entity")
	id := chi.URLParam(r, "id")

	var req struct {
		Fields map[string]any `json:"fields"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields required")
		return
	}

	rec, err := s.gateway.Update(r.Context(), entity, id, req.Fields, actor)
	if err != nil {
		gatewayOperationsTotal.WithLabelValues(entity, "UPDATE", "failure").Inc()
		writeGatewayError(w, err)
		return
	}
	gatewayOperationsTotal.WithLabelValues(entity, "UPDATE", "success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"data": presentRecord(rec)})
}

// DataDeleteHandler handles DELETE /v1/data/{entity}/{id}
func (s *Server) DataDeleteHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	entity := chi.URLParam(r, "entity")
	id := chi.URLParam(r, "id")

	if err := s.gateway.Delete(r.Context(), entity, id, actor); err != nil {
		gatewayOperationsTotal.WithLabelValues(entity, "DELETE", "failure").Inc()
		writeGatewayError(w, err)
		return
	}
	gatewayOperationsTotal.WithLabelValues(entity, "DELETE", "success").Inc()
	w.WriteHeader(http.StatusNoContent)
}
