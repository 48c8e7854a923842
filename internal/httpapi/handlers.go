package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"openbudget.org/internal/auth"
	"openbudget.org/internal/authz"
	"openbudget.org/internal/budget"
	"openbudget.org/internal/ids"
	"openbudget.org/internal/store"
)

// listFilters whitelists the query parameters a collection accepts as row
// filters. Filters compose with the authorization predicate, never replace it.
var listFilters = map[budget.Class][]string{
	budget.ClassRegulation: {"funder_id"},
	budget.ClassGrant:      {"regulation_id"},
	budget.ClassInitiative: {"grant_id", "hidden"},
	budget.ClassActivity:   {"initiative_id", "finished", "hidden"},
	budget.ClassPayment:    {"initiative_id", "activity_id", "bank_account_id", "type", "hidden"},
}

func (a *API) listResource(class budget.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		pred := a.guard.AuthorizedQuery(actor, authz.ActionRead, class)

		parts := store.And{pred}
		for _, col := range listFilters[class] {
			if raw := r.URL.Query().Get(col); raw != "" {
				parts = append(parts, store.Eq{Col: col, Value: parseFilterValue(raw)})
			}
		}

		offset, limit := pagination(r)
		rows, err := a.store.Query(r.Context(), class, parts, store.DefaultOrder(class), offset, limit)
		if err != nil {
			writeGuardError(w, err)
			return
		}

		items := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			projected, err := a.guard.ProjectForRead(r.Context(), actor, row)
			if err != nil {
				if authz.KindOf(err) == authz.KindNotFound {
					continue
				}
				writeGuardError(w, err)
				return
			}
			items = append(items, projected)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":  items,
			"offset": offset,
			"limit":  limit,
		})
	}
}

func (a *API) getResource(class budget.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		res, err := a.store.Get(r.Context(), class, id)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		projected, err := a.guard.ProjectForRead(r.Context(), actorFrom(r.Context()), res)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projected)
	}
}

func (a *API) patchResource(class budget.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		var changes map[string]any
		if err := decodeJSON(r, &changes); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := a.store.Get(r.Context(), class, id)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		if err := a.guard.Update(r.Context(), actorFrom(r.Context()), res, normalizeChanges(changes)); err != nil {
			writeGuardError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) deleteResource(class budget.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		res, err := a.store.Get(r.Context(), class, id)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		if err := a.guard.Delete(r.Context(), actorFrom(r.Context()), res); err != nil {
			writeGuardError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- authentication ---

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	user, err := a.store.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Role, 24*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user_id": user.ID,
	})
}

func (a *API) currentUser(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	projected, err := a.guard.ProjectForRead(r.Context(), actor, actor)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projected)
}

// --- creation ---

type createUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role" validate:"omitempty,oneof=user administrator"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	role := req.Role
	if role == "" {
		role = budget.RoleUser
	}
	user := &budget.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
	}
	if err := a.guard.Create(r.Context(), actorFrom(r.Context()), user); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type createInitiativeRequest struct {
	GrantID        int64  `json:"grant_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description"`
	Purpose        string `json:"purpose"`
	TargetAudience string `json:"target_audience"`
	Budget         int64  `json:"budget"`
	Hidden         bool   `json:"hidden"`
}

func (a *API) createInitiative(w http.ResponseWriter, r *http.Request) {
	var req createInitiativeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	initiative := &budget.Initiative{
		GrantID:        req.GrantID,
		Name:           req.Name,
		Description:    req.Description,
		Purpose:        req.Purpose,
		TargetAudience: req.TargetAudience,
		Budget:         req.Budget,
		Hidden:         req.Hidden,
	}
	if err := a.guard.Create(r.Context(), actorFrom(r.Context()), initiative); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type createActivityRequest struct {
	InitiativeID   int64  `json:"initiative_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description"`
	Purpose        string `json:"purpose"`
	TargetAudience string `json:"target_audience"`
	Budget         int64  `json:"budget"`
	Hidden         bool   `json:"hidden"`
}

func (a *API) createActivity(w http.ResponseWriter, r *http.Request) {
	var req createActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	activity := &budget.Activity{
		InitiativeID:   req.InitiativeID,
		Name:           req.Name,
		Description:    req.Description,
		Purpose:        req.Purpose,
		TargetAudience: req.TargetAudience,
		Budget:         req.Budget,
		Hidden:         req.Hidden,
	}
	if err := a.guard.Create(r.Context(), actorFrom(r.Context()), activity); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type createPaymentRequest struct {
	Amount               int64  `json:"amount" validate:"required"`
	BookingDate          string `json:"booking_date" validate:"required"`
	CounterpartyName     string `json:"counterparty_name"`
	CounterpartyAccount  string `json:"counterparty_account"`
	ShortUserDescription string `json:"short_user_description"`
	LongUserDescription  string `json:"long_user_description"`
	InitiativeID         *int64 `json:"initiative_id"`
}

// createPayment records a manual expense. Bank payments only enter through
// the ingest pipeline.
func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	booked, err := parseBookingDate(req.BookingDate)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "booking_date must be a date")
		return
	}
	payment := &budget.Payment{
		TransactionID:        ids.NewTransactionID(),
		Type:                 budget.PaymentTypeManual,
		Amount:               req.Amount,
		BookingDate:          booked,
		CounterpartyName:     req.CounterpartyName,
		CounterpartyAccount:  req.CounterpartyAccount,
		ShortUserDescription: req.ShortUserDescription,
		LongUserDescription:  req.LongUserDescription,
		InitiativeID:         req.InitiativeID,
	}
	if err := a.guard.Create(r.Context(), actorFrom(r.Context()), payment); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// --- role assignment ---

type assignUsersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

func (a *API) assignRole(kind store.RoleKind, class budget.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		var req assignUsersRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := a.store.Get(r.Context(), class, id)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		if err := a.guard.AssignRoles(r.Context(), actorFrom(r.Context()), kind, res, req.UserIDs); err != nil {
			writeGuardError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type assignUserRequest struct {
	UserID *int64 `json:"user_id"`
}

func (a *API) assignOverseer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	var req assignUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.store.Get(r.Context(), budget.ClassGrant, id)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	var target []int64
	if req.UserID != nil {
		target = []int64{*req.UserID}
	}
	if err := a.guard.AssignRoles(r.Context(), actorFrom(r.Context()), store.RoleGrantOverseer, res, target); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignAccountOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	var req assignUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == nil {
		respondError(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}
	res, err := a.store.Get(r.Context(), budget.ClassBankAccount, id)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	if err := a.guard.AssignRoles(r.Context(), actorFrom(r.Context()), store.RoleBankAccountOwner, res, []int64{*req.UserID}); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignOfficersRequest struct {
	Kind    string  `json:"kind" validate:"required,oneof=grant-officer policy-officer"`
	UserIDs []int64 `json:"user_ids"`
}

func (a *API) assignOfficers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	var req assignOfficersRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := a.store.Get(r.Context(), budget.ClassRegulation, id)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	if err := a.guard.AssignRoles(r.Context(), actorFrom(r.Context()), store.RoleKind(req.Kind), res, req.UserIDs); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkRequisitionsRequest struct {
	APIAccountID   string   `json:"api_account_id"`
	RequisitionIDs []string `json:"requisition_ids" validate:"required,min=1"`
}

func (a *API) linkRequisitions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	var req linkRequisitionsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := a.store.Get(r.Context(), budget.ClassBankAccount, id)
	if err != nil {
		writeGuardError(w, err)
		return
	}
	account := res.(*budget.BankAccount)
	if err := a.guard.LinkDebitCards(r.Context(), actorFrom(r.Context()), account, req.APIAccountID, req.RequisitionIDs); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- payment linking ---

type linkInitiativeRequest struct {
	InitiativeID *int64 `json:"initiative_id"`
}

func (a *API) linkPaymentInitiative(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	var req linkInitiativeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.guard.LinkPaymentInitiative(r.Context(), actorFrom(r.Context()), id, req.InitiativeID); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkActivityRequest struct {
	InitiativeID int64  `json:"initiative_id" validate:"required"`
	ActivityID   *int64 `json:"activity_id"`
}

func (a *API) linkPaymentActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	var req linkActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := a.guard.LinkPaymentActivity(r.Context(), actorFrom(r.Context()), id, req.InitiativeID, req.ActivityID); err != nil {
		writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- value coercion ---

// parseFilterValue maps a query string value onto the column's natural type.
func parseFilterValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// normalizeChanges converts JSON numbers into int64 where they are whole, so
// column comparisons behave the same across store implementations.
func normalizeChanges(changes map[string]any) map[string]any {
	out := make(map[string]any, len(changes))
	for k, v := range changes {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			out[k] = int64(f)
			continue
		}
		out[k] = v
	}
	return out
}

func parseBookingDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
