package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"agromind-sense/internal/repository"
)

type contextKey string

const userContextKey contextKey = "auth-user"

// Role ranks for tenant authorization. Farmer accounts are bound to a
// single tenant; tech and admin may be members of several.
var roleRank = map[string]int{
	"farmer": 1,
	"tech":   2,
	"admin":  3,
}

var multiTenantRoles = map[string]bool{"tech": true, "admin": true}

// requireIngestKey guards the device-facing endpoints with the shared
// ingest API key (header X-API-Key or query k), compared in constant
// time.
func requireIngestKey(expected string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if expected == "" {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Reason: "ingest key not configured"})
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("k")
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Reason: "missing API key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "invalid API key"})
			return
		}
		next(w, r)
	}
}

// requireBearer resolves the Authorization bearer token to a user and
// stores it in the request context.
func requireBearer(auth repository.AuthRepository, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Reason: "missing bearer token"})
			return
		}
		user, err := auth.GetUserByToken(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

func userFrom(ctx context.Context) *repository.AuthUser {
	user, _ := ctx.Value(userContextKey).(*repository.AuthUser)
	return user
}

// authorizeTenant checks membership and role rank for one tenant. A
// farmer listed in several tenants is denied rather than guessed.
func authorizeTenant(user *repository.AuthUser, tenantID, minRole string) bool {
	if user == nil {
		return false
	}
	rank, ok := roleRank[user.Role]
	if !ok {
		return false
	}
	needed, ok := roleRank[minRole]
	if !ok || rank < needed {
		return false
	}

	if user.TenantID == tenantID {
		return true
	}
	for _, id := range user.TenantIDs {
		if id != tenantID {
			continue
		}
		if multiTenantRoles[user.Role] {
			return true
		}
		return len(user.TenantIDs) == 1
	}
	return false
}
