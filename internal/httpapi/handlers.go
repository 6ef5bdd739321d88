// Package httpapi exposes the group engine over HTTP for administration
// and host integration.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"groupcore.org/internal/engine"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/event"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
	"groupcore.org/internal/obs"
)

// ReadyProbe reports readiness, pinging the database when one is wired.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	engine   *engine.Engine
	registry *grouptype.Registry
	manager  *membership.Manager
	source   entity.Source
	bus      *event.Bus

	rateBurst  int
	ratePerSec float64
}

// Deps carries the collaborators the API serves.
type Deps struct {
	Engine   *engine.Engine
	Registry *grouptype.Registry
	Manager  *membership.Manager
	Source   entity.Source
	Bus      *event.Bus
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		engine:     deps.Engine,
		registry:   deps.Registry,
		manager:    deps.Manager,
		source:     deps.Source,
		bus:        deps.Bus,
		rateBurst:  100,
		ratePerSec: 50,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/group-types", a.handleGroupTypes)
	a.mux.HandleFunc("/v1/fields", a.handleFields)
	a.mux.HandleFunc("/v1/memberships", a.handleMemberships)
	a.mux.HandleFunc("/v1/memberships/", a.handleMembershipScoped)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleScoped)
	a.mux.HandleFunc("/v1/access/check", a.handleAccessCheck)
	a.mux.HandleFunc("/v1/access/create-check", a.handleCreateAccessCheck)
	a.mux.HandleFunc("/v1/entities", a.handleEntities)
	a.mux.HandleFunc("/v1/entities/", a.handleEntityScoped)
	a.mux.HandleFunc("/v1/orphans/stats", a.handleOrphanStats)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-client rate limit. Call before
// Handler.
func (a *API) SetRateLimit(burst int, perSecond float64) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSecond > 0 {
		a.ratePerSec = perSecond
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "groupcore-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "groupcore-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
