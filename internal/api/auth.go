package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// principal is what a bearer token resolves to. The operator token carries
// no company scope and passes every check; a tenant token is pinned to the
// company it was issued for.
type principal struct {
	companyID string
	operator  bool
}

type contextKey int

const principalKey contextKey = iota

// BearerAuth resolves the Authorization header against the operator token
// and the per-tenant tokens, and stores the resulting principal on the
// request context. Unknown tokens are rejected with 401.
func BearerAuth(operatorToken string, tenants map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			token := []byte(auth[len(prefix):])

			var p principal
			switch {
			case subtle.ConstantTimeCompare(token, []byte(operatorToken)) == 1:
				p = principal{operator: true}
			default:
				matched := false
				for t, companyID := range tenants {
					if subtle.ConstantTimeCompare(token, []byte(t)) == 1 {
						p = principal{companyID: companyID}
						matched = true
						break
					}
				}
				if !matched {
					httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
		})
	}
}

func callerPrincipal(r *http.Request) principal {
	p, _ := r.Context().Value(principalKey).(principal)
	return p
}

// denyCompany writes a 403 and reports true when the caller's token is not
// scoped to companyID. The operator token passes everywhere.
func denyCompany(w http.ResponseWriter, r *http.Request, companyID string) bool {
	p := callerPrincipal(r)
	if p.operator || p.companyID == companyID {
		return false
	}
	httpError(w, http.StatusForbidden, "forbidden", "token is not scoped to company %s", companyID)
	return true
}

// denyNonOperator guards the shared-infrastructure surfaces (scraper pool,
// signal feeds, queue internals) that belong to no single tenant.
func denyNonOperator(w http.ResponseWriter, r *http.Request) bool {
	if callerPrincipal(r).operator {
		return false
	}
	httpError(w, http.StatusForbidden, "forbidden", "operator token required")
	return true
}
