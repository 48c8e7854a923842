package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"openbudget.org/internal/auth"
	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type actorKey struct{}

func contextWithActor(ctx context.Context, u *budget.User) context.Context {
	return context.WithValue(ctx, actorKey{}, u)
}

// actorFrom returns the authenticated user, or nil for anonymous requests.
// The policy engine treats a nil actor as the anonymous relation.
func actorFrom(ctx context.Context) *budget.User {
	u, _ := ctx.Value(actorKey{}).(*budget.User)
	return u
}

// withAuth resolves the bearer token into a loaded user. Requests without an
// Authorization header pass through anonymous; the policy decides what they
// see. A present but invalid token is rejected.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		res, err := a.store.Get(r.Context(), budget.ClassUser, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			respondError(w, http.StatusInternalServerError, "authentication error")
			return
		}
		user := res.(*budget.User)

		ctx := contextWithActor(r.Context(), user)
		ctx = auth.ContextWithUser(ctx, user.ID, user.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
