// Package glue is the external interfaces layer: the /int-api HTTP
// endpoints the core exposes (trigger-update notifications, worker
// heartbeats and their listing, task fetch, and manual token
// activate/clear), even though the admin CRUD business logic behind
// them is out of scope
// (spec §1 Non-goals). It is the seam the HTTP control plane uses to
// talk to the in-process core.
package glue

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/dispatch"
	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// heartbeatCacheSize bounds the worker heartbeat sink; a fleet larger
// than this evicts its oldest-seen members first, which only affects
// the (advisory) /int-api/workers listing, not scheduling correctness.
const heartbeatCacheSize = 8192

// Glue wires the post office, store, and dispatcher's recent-dispatch
// cache to the /int-api endpoints registered in Router.
type Glue struct {
	PostOffice *postoffice.PostOffice
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Logger     logger.Logger

	heartbeats *lru.Cache[uuid.UUID, waterwheel.Heartbeat]
}

// New constructs Glue and its HTTP handlers.
func New(po *postoffice.PostOffice, st *store.Store, d *dispatch.Dispatcher, lg logger.Logger) *Glue {
	cache, _ := lru.New[uuid.UUID, waterwheel.Heartbeat](heartbeatCacheSize)
	return &Glue{PostOffice: po, Store: st, Dispatcher: d, Logger: lg, heartbeats: cache}
}

// Router builds the chi router exposing /int-api. CORS is permissive
// by default since this surface is meant for worker processes and the
// admin HTTP layer, not browsers; the admin layer is expected to sit
// in front of this with its own policy when exposed externally.
func (g *Glue) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Route("/int-api", func(r chi.Router) {
		r.Post("/trigger-update/{trigger_id}", g.handleTriggerUpdate)
		r.Post("/heartbeat", g.handleHeartbeat)
		r.Get("/workers", g.handleListWorkers)
		r.Get("/tasks/{task_run_id}", g.handleGetTask)
		r.Post("/tokens/{task_id}/{trigger_datetime}/activate", g.handleActivate)
		r.Post("/tokens/{task_id}/{trigger_datetime}/clear", g.handleClear)
	})
	return r
}

func (g *Glue) handleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "trigger_id"))
	if err != nil {
		http.Error(w, "invalid trigger_id", http.StatusBadRequest)
		return
	}
	g.PostOffice.NotifyTriggerUpdate(id)
	w.WriteHeader(http.StatusAccepted)
}

func (g *Glue) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb waterwheel.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, "malformed heartbeat", http.StatusBadRequest)
		return
	}
	if hb.LastSeenAt.IsZero() {
		hb.LastSeenAt = time.Now().UTC()
	}
	g.heartbeats.Add(hb.UUID, hb)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Glue) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	out := make([]waterwheel.Heartbeat, 0, g.heartbeats.Len())
	for _, id := range g.heartbeats.Keys() {
		if hb, ok := g.heartbeats.Peek(id); ok {
			out = append(out, hb)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Glue) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskRunID, err := uuid.Parse(chi.URLParam(r, "task_run_id"))
	if err != nil {
		http.Error(w, "invalid task_run_id", http.StatusBadRequest)
		return
	}
	req, ok := g.Dispatcher.Lookup(taskRunID)
	if !ok {
		http.Error(w, "task run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (g *Glue) handleActivate(w http.ResponseWriter, r *http.Request) {
	taskID, dt, ok := parseTokenPath(w, r)
	if !ok {
		return
	}
	g.PostOffice.PostActivate(taskID, dt, waterwheel.PriorityNormal)
	w.WriteHeader(http.StatusAccepted)
}

func (g *Glue) handleClear(w http.ResponseWriter, r *http.Request) {
	taskID, dt, ok := parseTokenPath(w, r)
	if !ok {
		return
	}
	g.PostOffice.PostClear(taskID, dt)
	w.WriteHeader(http.StatusAccepted)
}

func parseTokenPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
	if err != nil {
		http.Error(w, "invalid task_id", http.StatusBadRequest)
		return uuid.UUID{}, time.Time{}, false
	}
	dt, err := time.Parse(time.RFC3339, chi.URLParam(r, "trigger_datetime"))
	if err != nil {
		http.Error(w, "invalid trigger_datetime, expected RFC3339", http.StatusBadRequest)
		return uuid.UUID{}, time.Time{}, false
	}
	return taskID, dt, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
