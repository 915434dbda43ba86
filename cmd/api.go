package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/resilience"
	"github.com/sells-group/record-review/internal/review"
	"github.com/sells-group/record-review/internal/store"
	"github.com/sells-group/record-review/pkg/interpretation"
)

const maxBodyBytes = 10 << 20

// apiServer serves the review HTTP API.
type apiServer struct {
	engine *review.Engine
	store  store.Store
	client interpretation.Client // may be nil
	log    *zap.Logger
}

type reviewRequest struct {
	Payload json.RawMessage `json:"payload"`
	Filters model.Filters   `json:"filters"`
}

type changesRequest struct {
	Changes []model.Change `json:"changes"`
}

// buildRouter wires the API routes. origins configures CORS.
func buildRouter(s *apiServer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/review", s.handleReview)
		r.Get("/documents/{id}/view", s.handleDocumentView)
		r.Post("/documents/{id}/changes", s.handleChanges)
		r.Get("/documents/{id}/diagnostics", s.handleDiagnostics)
	})
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}
	p, err := model.ParsePayload(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interpretation payload")
		return
	}
	s.respondView(r.Context(), w, *p, req.Filters)
}

func (s *apiServer) handleDocumentView(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")
	filters, err := filtersFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	p, status, err := s.loadPayload(r.Context(), docID, refresh)
	if err != nil {
		s.log.Error("api: load payload failed", zap.String("document_id", docID), zap.Error(err))
		writeError(w, status, http.StatusText(status))
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondView(r.Context(), w, *p, filters)
}

// handleChanges forwards edits to the extraction service when one is
// configured, otherwise applies them to the latest stored snapshot.
func (s *apiServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := chi.URLParam(r, "id")

	var req changesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := model.ValidateChanges(req.Changes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var raw []byte
	if s.client != nil {
		it, err := s.client.ApplyChanges(ctx, docID, req.Changes)
		if err != nil {
			s.log.Error("api: apply changes upstream failed", zap.String("document_id", docID), zap.Error(err))
			status := upstreamStatus(err)
			writeError(w, status, http.StatusText(status))
			return
		}
		raw = it.Raw
	} else {
		p, status, err := s.loadPayload(ctx, docID, false)
		if err != nil {
			writeError(w, status, http.StatusText(status))
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		updated, err := model.ApplyChanges(*p, req.Changes)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if raw, err = json.Marshal(updated); err != nil {
			writeError(w, http.StatusInternalServerError, "encode payload")
			return
		}
	}

	if _, err := s.store.SaveSnapshot(ctx, docID, raw); err != nil {
		s.log.Error("api: save snapshot failed", zap.String("document_id", docID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save snapshot")
		return
	}
	s.engine.ForgetDocument(docID)
	p, err := model.ParsePayload(raw)
	if err != nil {
		writeError(w, http.StatusBadGateway, "invalid interpretation payload")
		return
	}
	if p.DocumentID == "" {
		p.DocumentID = docID
	}
	s.respondView(ctx, w, *p, model.Filters{})
}

func (s *apiServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DiagnosticFilter{
		DocumentID: chi.URLParam(r, "id"),
		Kind:       q.Get("kind"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	diags, err := s.store.ListDiagnostics(r.Context(), filter)
	if err != nil {
		s.log.Error("api: list diagnostics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list diagnostics")
		return
	}
	if diags == nil {
		diags = []store.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagnostics": diags})
}

// loadPayload returns the latest stored payload for docID, fetching and
// storing it from the extraction service when refresh is set or nothing is
// stored yet. A nil payload with a nil error means not found.
func (s *apiServer) loadPayload(ctx context.Context, docID string, refresh bool) (*model.InterpretationPayload, int, error) {
	if !refresh {
		snap, err := s.store.LatestSnapshot(ctx, docID)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		if snap != nil {
			p, err := model.ParsePayload(snap.Payload)
			if err != nil {
				return nil, http.StatusInternalServerError, err
			}
			if p.DocumentID == "" {
				p.DocumentID = docID
			}
			return p, http.StatusOK, nil
		}
	}
	if s.client == nil {
		return nil, http.StatusNotFound, nil
	}

	it, err := s.client.FetchInterpretation(ctx, docID)
	if err != nil {
		return nil, upstreamStatus(err), err
	}
	if _, err := s.store.SaveSnapshot(ctx, docID, it.Raw); err != nil {
		return nil, http.StatusInternalServerError, err
	}
	s.engine.ForgetDocument(docID)
	if it.Payload.DocumentID == "" {
		it.Payload.DocumentID = docID
	}
	return it.Payload, http.StatusOK, nil
}

func (s *apiServer) respondView(ctx context.Context, w http.ResponseWriter, p model.InterpretationPayload, filters model.Filters) {
	vm, err := s.engine.ComputeView(ctx, p, filters)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("api: compute view failed", zap.String("document_id", p.DocumentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "compute view")
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, resilience.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrChangesRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrInterpretationPending):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// newHTTPServer returns the server with the timeouts used in production.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
}
