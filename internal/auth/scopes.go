package auth

import "net/http"

// Scopes understood by the compliance API. Admin implies read and write.
const (
	ScopeRead  = "cpd:read"
	ScopeWrite = "cpd:write"
	ScopeAdmin = "cpd:admin"
)

// Allows reports whether the claims grant scope directly or through admin.
func (c *Claims) Allows(scope string) bool {
	return c.HasScope(scope) || c.HasScope(ScopeAdmin)
}

// RequireScope rejects requests whose claims do not allow scope. It must run
// after Middleware.Wrap.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, ErrMissingToken.Error())
			return
		}
		if !claims.Allows(scope) {
			writeAuthError(w, http.StatusForbidden, "missing scope "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}
