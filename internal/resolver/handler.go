package resolver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// maxManifestBytes caps the size of an MPD document the handler accepts.
const maxManifestBytes = 16 << 20

// errorBody is the JSON shape of a resolution failure response.
type errorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"`
	Category string `json:"category,omitempty"`
}

// Handler exposes resolver HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/manifests", h.ResolveManifest)
	r.Get("/manifests", h.ListManifests)
	r.Route("/manifests/{manifest_id}", func(r chi.Router) {
		r.Get("/", h.GetManifest)
		r.Put("/", h.UpdateManifest)
		r.Delete("/", h.DeleteManifest)
	})
}

// ResolveManifest handles POST /manifests. The body is a raw MPD document;
// the source URI comes from the "uri" query parameter.
func (h *Handler) ResolveManifest(w http.ResponseWriter, r *http.Request) {
	sourceURI := r.URL.Query().Get("uri")
	if sourceURI == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing uri query parameter"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "empty or unreadable body"})
		return
	}

	rec, err := h.svc.Resolve(body, sourceURI)
	if err != nil {
		h.writeResolveError(w, "resolve manifest failed", sourceURI, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(rec))
	if h.metrics != nil {
		h.metrics.IncManifestsResolved()
	}
}

// GetManifest handles GET /manifests/{manifest_id}.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	id := ManifestID(chi.URLParam(r, "manifest_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rec, err := h.svc.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

// ListManifests handles GET /manifests.
func (h *Handler) ListManifests(w http.ResponseWriter, r *http.Request) {
	recs := h.svc.List()
	out := make([]ManifestSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summaryOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateManifest handles PUT /manifests/{manifest_id}. The body is a newer
// copy of the same MPD document; segment references merge into the stored
// live indexes.
func (h *Handler) UpdateManifest(w http.ResponseWriter, r *http.Request) {
	id := ManifestID(chi.URLParam(r, "manifest_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "empty or unreadable body"})
		return
	}

	rec, err := h.svc.Update(id, body)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
			return
		}
		h.writeResolveError(w, "update manifest failed", string(id), err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(rec))
	if h.metrics != nil {
		h.metrics.IncManifestUpdates()
	}
}

// DeleteManifest handles DELETE /manifests/{manifest_id}.
func (h *Handler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	id := ManifestID(chi.URLParam(r, "manifest_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.Delete(id); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeResolveError maps a parse failure onto an HTTP response. Manifest
// errors carry their code and severity so clients can distinguish a broken
// document from a transient failure.
func (h *Handler) writeResolveError(w http.ResponseWriter, msg, uri string, err error) {
	if h.metrics != nil {
		h.metrics.IncErrors()
	}

	var me *mpderr.Error
	if errors.As(err, &me) {
		h.log.Info(msg,
			slog.String("uri", uri),
			slog.String("code", string(me.Code)),
			slog.String("severity", me.Severity.String()),
			slog.String("error", me.Message))
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:    me.Message,
			Code:     string(me.Code),
			Severity: me.Severity.String(),
			Category: me.Category.String(),
		})
		return
	}

	h.log.Error(msg, slog.String("uri", uri), slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
