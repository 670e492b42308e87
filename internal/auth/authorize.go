package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// Decision is the result of evaluating a route requirement
type Decision int

const (
	// Allow permits the request
	Allow Decision = iota
	// DenyUnauthenticated rejects a request that carries no principal (401)
	DenyUnauthenticated
	// DenyForbidden rejects a principal lacking the required roles (403)
	DenyForbidden
)

// String returns the metrics label for the decision
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "unauthenticated"
	case DenyForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirement is the access rule declared for a route
type Requirement struct {
	authenticated bool
	roles         []string
	matchAll      bool
}

// Public declares a route with no requirement
func Public() Requirement {
	return Requirement{}
}

// Authenticated declares a route open to any authenticated principal
func Authenticated() Requirement {
	return Requirement{authenticated: true}
}

// AnyRole declares a route open to principals holding at least one of roles
func AnyRole(roles ...string) Requirement {
	return Requirement{authenticated: true, roles: append([]string(nil), roles...)}
}

// AllRoles declares a route open to principals holding every one of roles
func AllRoles(roles ...string) Requirement {
	return Requirement{authenticated: true, roles: append([]string(nil), roles...), matchAll: true}
}

// IsPublic reports whether the requirement admits unauthenticated requests
func (r Requirement) IsPublic() bool {
	return !r.authenticated
}

// Roles returns the roles named by the requirement
func (r Requirement) Roles() []string {
	return append([]string(nil), r.roles...)
}

func (r Requirement) String() string {
	switch {
	case !r.authenticated:
		return "public"
	case len(r.roles) == 0:
		return "authenticated"
	case r.matchAll:
		return "all(" + strings.Join(r.roles, ",") + ")"
	default:
		return "any(" + strings.Join(r.roles, ",") + ")"
	}
}

// Evaluate decides whether p satisfies req. Role names match exactly.
func Evaluate(p *types.Principal, req Requirement) Decision {
	if !req.authenticated {
		return Allow
	}
	if !p.Enabled() {
		return DenyUnauthenticated
	}
	if len(req.roles) == 0 {
		return Allow
	}

	if req.matchAll {
		if p.HasAllRoles(req.roles...) {
			return Allow
		}
		return DenyForbidden
	}

	if p.HasAnyRole(req.roles...) {
		return Allow
	}
	return DenyForbidden
}

// ErrorResponse is the JSON body of a rejected request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RequireRoles returns middleware enforcing req against the principal
// established by the Gate.
func RequireRoles(req Requirement, m metrics.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFromContext(r.Context())
			decision := Evaluate(principal, req)
			m.RecordAuthorization(decision.String())

			switch decision {
			case Allow:
				next.ServeHTTP(w, r)
			case DenyUnauthenticated:
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			default:
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}
