package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/store"
)

// PushRunner executes one push cycle for a mapping.
type PushRunner interface {
	ProcessMapping(ctx context.Context, m *mapping.Mapping, remaining int) (int, error)
}

// PullRunner polls and applies updated remote records for a mapping.
type PullRunner interface {
	EnqueueUpdatedRecords(ctx context.Context, m *mapping.Mapping, start, stop time.Time, forcePull bool) error
	DrainQueue(ctx context.Context) int
}

// ReconcileRunner detects remote deletions for a mapping.
type ReconcileRunner interface {
	Reconcile(ctx context.Context, m *mapping.Mapping, purge bool) ([]string, error)
}

// Handler implements the API handlers.
type Handler struct {
	mappings   *mapping.Set
	push       PushRunner
	pull       PullRunner
	reconciler ReconcileRunner
	queue      store.PushQueue
	apiKey     string
	version    string
}

// NewHandler creates a new Handler.
func NewHandler(
	mappings *mapping.Set,
	push PushRunner,
	pull PullRunner,
	reconciler ReconcileRunner,
	queue store.PushQueue,
	apiKey, version string,
) *Handler {
	return &Handler{
		mappings:   mappings,
		push:       push,
		pull:       pull,
		reconciler: reconciler,
		queue:      queue,
		apiKey:     apiKey,
		version:    version,
	}
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Mappings   int    `json:"mappings"`
	QueueDepth int    `json:"queue_depth"`
}

// Health returns the health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.TotalLen(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Mappings:   len(h.mappings.All()),
		QueueDepth: depth,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MappingSummary is one entry of the GET /mappings payload.
type MappingSummary struct {
	ID               string `json:"id"`
	Label            string `json:"label"`
	Weight           int    `json:"weight"`
	LocalType        string `json:"local_type"`
	LocalBundle      string `json:"local_bundle,omitempty"`
	RemoteObjectType string `json:"remote_object_type"`
	PushEnabled      bool   `json:"push_enabled"`
	PullEnabled      bool   `json:"pull_enabled"`
	FieldCount       int    `json:"field_count"`
}

// ListMappings handles GET /api/v1/mappings.
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	all := h.mappings.All()
	out := make([]MappingSummary, 0, len(all))
	for _, m := range all {
		out = append(out, MappingSummary{
			ID:               m.ID,
			Label:            m.Label,
			Weight:           m.Weight,
			LocalType:        m.LocalType,
			LocalBundle:      m.LocalBundle,
			RemoteObjectType: m.RemoteObjectType,
			PushEnabled:      m.PushTriggers.Any(),
			PullEnabled:      m.PullTriggers.Any(),
			FieldCount:       len(m.FieldMappings),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// QueueStatus is one entry of the GET /queue payload.
type QueueStatus struct {
	Mapping string `json:"mapping"`
	Depth   int    `json:"depth"`
	Failed  int    `json:"failed"`
}

// QueueResponse is the GET /queue payload.
type QueueResponse struct {
	Total    int           `json:"total"`
	Mappings []QueueStatus `json:"mappings"`
}

// Queue handles GET /api/v1/queue. Reports per-mapping queue depth and
// the count of items past the mapping's retry limit.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.queue.TotalLen(ctx)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}

	resp := QueueResponse{Total: total, Mappings: []QueueStatus{}}
	for _, m := range h.mappings.PushMappings() {
		depth, err := h.queue.Len(ctx, m.ID)
		if err != nil {
			MapSyncError(w, r, err)
			return
		}
		failed, err := h.queue.FailedLen(ctx, m.ID, m.PushRetries)
		if err != nil {
			MapSyncError(w, r, err)
			return
		}
		resp.Mappings = append(resp.Mappings, QueueStatus{
			Mapping: m.ID,
			Depth:   depth,
			Failed:  failed,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// PushResponse is the POST /push/{mapping} payload.
type PushResponse struct {
	Mapping string `json:"mapping"`
	Pushed  int    `json:"pushed"`
}

// RunPush handles POST /api/v1/push/{mapping}. Runs one push cycle for
// the named mapping regardless of its cadence.
func (h *Handler) RunPush(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mapping(w, r)
	if !ok {
		return
	}

	limit := m.PushLimit
	if limit <= 0 {
		limit = 50
	}

	pushed, err := h.push.ProcessMapping(r.Context(), m, limit)
	if err != nil {
		slog.Error("manual push failed", "mapping", m.ID, "error", err)
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PushResponse{Mapping: m.ID, Pushed: pushed})
}

// PullResponse is the POST /pull/{mapping} payload.
type PullResponse struct {
	Mapping   string `json:"mapping"`
	Processed int    `json:"processed"`
}

// RunPull handles POST /api/v1/pull/{mapping}. Optional start/stop query
// parameters (RFC 3339) force an explicit window; force=true reapplies
// records regardless of timestamps.
func (h *Handler) RunPull(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mapping(w, r)
	if !ok {
		return
	}

	var start, stop time.Time
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("stop"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "stop must be RFC 3339")
			return
		}
		stop = t
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.pull.EnqueueUpdatedRecords(r.Context(), m, start, stop, force); err != nil {
		slog.Error("manual pull failed", "mapping", m.ID, "error", err)
		MapSyncError(w, r, err)
		return
	}
	processed := h.pull.DrainQueue(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PullResponse{Mapping: m.ID, Processed: processed})
}

// ReconcileResponse is the POST /reconcile/{mapping} payload.
type ReconcileResponse struct {
	Mapping string   `json:"mapping"`
	Orphans []string `json:"orphans"`
	Purged  bool     `json:"purged"`
}

// RunReconcile handles POST /api/v1/reconcile/{mapping}. Reports local
// entities whose remote counterpart no longer exists; purge=true removes
// the orphaned links.
func (h *Handler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mapping(w, r)
	if !ok {
		return
	}
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	orphans, err := h.reconciler.Reconcile(r.Context(), m, purge)
	if err != nil {
		slog.Error("manual reconcile failed", "mapping", m.ID, "error", err)
		MapSyncError(w, r, err)
		return
	}
	if orphans == nil {
		orphans = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReconcileResponse{Mapping: m.ID, Orphans: orphans, Purged: purge})
}

// RequeueItem handles POST /api/v1/queue/{mapping}/{id}/requeue. Resets
// the failure count of a queue item that exhausted its retries.
func (h *Handler) RequeueItem(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mapping(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	item, err := h.queue.GetItem(r.Context(), id)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	if item.Name != m.ID {
		WriteProblem(w, r, http.StatusNotFound, "Queue item does not belong to mapping")
		return
	}

	if err := h.queue.Requeue(r.Context(), id); err != nil {
		MapSyncError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// mapping resolves the {mapping} URL parameter, writing a 404 problem
// when unknown.
func (h *Handler) mapping(w http.ResponseWriter, r *http.Request) (*mapping.Mapping, bool) {
	id := chi.URLParam(r, "mapping")
	m, ok := h.mappings.Get(id)
	if !ok {
		WriteProblem(w, r, http.StatusNotFound, "Unknown mapping")
		return nil, false
	}
	return m, true
}
