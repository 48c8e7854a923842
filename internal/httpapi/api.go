package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"openbudget.org/internal/authz"
	"openbudget.org/internal/budget"
	"openbudget.org/internal/obs"
	"openbudget.org/internal/store"
)

// ReadyProbe reports whether the backing database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. Every resource request flows through the guard;
// handlers never touch the store for reads or writes the guard can do.
type API struct {
	mux        *http.ServeMux
	guard      *authz.Guard
	store      store.DataStore
	readyProbe ReadyProbe
	version    string
	validate   *validator.Validate
}

func New(guard *authz.Guard, st store.DataStore, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		guard:      guard,
		store:      st,
		readyProbe: rp,
		version:    version,
		validate:   validator.New(),
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.ready)
	a.mux.HandleFunc("GET /v1/info", a.info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("POST /v1/auth/token", a.login)

	// users
	a.mux.HandleFunc("GET /v1/users/me", a.currentUser)
	a.mux.HandleFunc("POST /v1/users", a.createUser)
	a.mux.HandleFunc("GET /v1/users/{id}", a.getResource(budget.ClassUser))
	a.mux.HandleFunc("PATCH /v1/users/{id}", a.patchResource(budget.ClassUser))
	a.mux.HandleFunc("DELETE /v1/users/{id}", a.deleteResource(budget.ClassUser))

	// funding hierarchy
	a.mux.HandleFunc("GET /v1/funders", a.listResource(budget.ClassFunder))
	a.mux.HandleFunc("GET /v1/funders/{id}", a.getResource(budget.ClassFunder))
	a.mux.HandleFunc("GET /v1/regulations", a.listResource(budget.ClassRegulation))
	a.mux.HandleFunc("GET /v1/regulations/{id}", a.getResource(budget.ClassRegulation))
	a.mux.HandleFunc("PUT /v1/regulations/{id}/officers", a.assignOfficers)
	a.mux.HandleFunc("GET /v1/grants", a.listResource(budget.ClassGrant))
	a.mux.HandleFunc("GET /v1/grants/{id}", a.getResource(budget.ClassGrant))
	a.mux.HandleFunc("PUT /v1/grants/{id}/overseer", a.assignOverseer)

	// initiatives and activities
	a.mux.HandleFunc("GET /v1/initiatives", a.listResource(budget.ClassInitiative))
	a.mux.HandleFunc("POST /v1/initiatives", a.createInitiative)
	a.mux.HandleFunc("GET /v1/initiatives/{id}", a.getResource(budget.ClassInitiative))
	a.mux.HandleFunc("PATCH /v1/initiatives/{id}", a.patchResource(budget.ClassInitiative))
	a.mux.HandleFunc("DELETE /v1/initiatives/{id}", a.deleteResource(budget.ClassInitiative))
	a.mux.HandleFunc("PUT /v1/initiatives/{id}/owners", a.assignRole(store.RoleInitiativeOwner, budget.ClassInitiative))

	a.mux.HandleFunc("GET /v1/activities", a.listResource(budget.ClassActivity))
	a.mux.HandleFunc("POST /v1/activities", a.createActivity)
	a.mux.HandleFunc("GET /v1/activities/{id}", a.getResource(budget.ClassActivity))
	a.mux.HandleFunc("PATCH /v1/activities/{id}", a.patchResource(budget.ClassActivity))
	a.mux.HandleFunc("DELETE /v1/activities/{id}", a.deleteResource(budget.ClassActivity))
	a.mux.HandleFunc("PUT /v1/activities/{id}/owners", a.assignRole(store.RoleActivityOwner, budget.ClassActivity))

	// bank accounts and payments
	a.mux.HandleFunc("GET /v1/bank-accounts", a.listResource(budget.ClassBankAccount))
	a.mux.HandleFunc("GET /v1/bank-accounts/{id}", a.getResource(budget.ClassBankAccount))
	a.mux.HandleFunc("PUT /v1/bank-accounts/{id}/users", a.assignRole(store.RoleBankAccountUser, budget.ClassBankAccount))
	a.mux.HandleFunc("PUT /v1/bank-accounts/{id}/owner", a.assignAccountOwner)
	a.mux.HandleFunc("PUT /v1/bank-accounts/{id}/requisitions", a.linkRequisitions)

	a.mux.HandleFunc("GET /v1/payments", a.listResource(budget.ClassPayment))
	a.mux.HandleFunc("POST /v1/payments", a.createPayment)
	a.mux.HandleFunc("GET /v1/payments/{id}", a.getResource(budget.ClassPayment))
	a.mux.HandleFunc("PATCH /v1/payments/{id}", a.patchResource(budget.ClassPayment))
	a.mux.HandleFunc("DELETE /v1/payments/{id}", a.deleteResource(budget.ClassPayment))
	a.mux.HandleFunc("PUT /v1/payments/{id}/initiative", a.linkPaymentInitiative)
	a.mux.HandleFunc("PUT /v1/payments/{id}/activity", a.linkPaymentActivity)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with authentication and metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- service handlers ---

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "openbudget-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "openbudget-api",
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

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// writeGuardError maps guard failures onto HTTP status codes. Store
// transients stay opaque 500s.
func writeGuardError(w http.ResponseWriter, err error) {
	switch authz.KindOf(err) {
	case authz.KindNotAuthorized:
		respondError(w, http.StatusForbidden, "not authorized")
	case authz.KindNotFound:
		respondError(w, http.StatusNotFound, "not found")
	case authz.KindInvariantConflict:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"reason": authz.ReasonOf(err),
		})
	case authz.KindAlreadyExists:
		respondError(w, http.StatusConflict, "already exists")
	case authz.KindValidation:
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pagination(r *http.Request) (offset, limit int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 200)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return offset, limit
}
