package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opsboard.org/internal/authz"
	"opsboard.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates every non-public request: the bearer token is
// verified and the resulting principal, including its declared purpose,
// is attached to the request context. Authorization happens later, per
// handler, through the requirement gate.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.ParseAndValidate(raw)
		if err != nil {
			if errors.Is(err, token.ErrInvalidToken) {
				respondError(w, http.StatusUnauthorized, "invalid token")
			} else {
				respondError(w, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := authz.ContextWithPrincipal(r.Context(), claims.Principal())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthRequirement is what a handler demands of the already-authenticated
// caller: a resolved permission, an exact token purpose, or just a full
// session credential.
type AuthRequirement struct {
	perm    authz.Permission
	purpose authz.TokenPurpose
}

// RequirePermission demands a full session whose resolved permission set
// contains perm.
func RequirePermission(perm authz.Permission) AuthRequirement {
	return AuthRequirement{perm: perm}
}

// RequireTokenPurpose demands a single-purpose credential with exactly
// this declared purpose. No permission is resolved.
func RequireTokenPurpose(purpose authz.TokenPurpose) AuthRequirement {
	return AuthRequirement{purpose: purpose}
}

// RequireSession demands a full session credential without resolving any
// particular permission.
func RequireSession() AuthRequirement {
	return AuthRequirement{}
}

// authorize is the single gate evaluated before any handler logic. It
// returns the principal and whether the request may proceed; on denial the
// response has already been written.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, req AuthRequirement) (authz.Principal, bool) {
	p, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return authz.Principal{}, false
	}

	if req.purpose != authz.PurposeNone {
		if p.Purpose != req.purpose {
			writeError(w, r, http.StatusUnauthorized, "token purpose does not permit this operation")
			return authz.Principal{}, false
		}
		return p, true
	}

	// Single-purpose credentials carry no ambient permissions.
	if p.Purpose != authz.PurposeNone {
		writeError(w, r, http.StatusUnauthorized, "token purpose does not permit this operation")
		return authz.Principal{}, false
	}
	if req.perm == "" {
		return p, true
	}

	allowed, err := a.resolver.HasPermission(r.Context(), p, req.perm)
	if err != nil {
		handleAuthzError(w, r, err)
		return authz.Principal{}, false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return authz.Principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
