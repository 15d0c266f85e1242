package policy

import (
	"log/slog"
	"net/http"

	"github.com/diewo77/go-clients/auth"
	"github.com/diewo77/go-clients/httpx"
)

// RoleTable maps operator roles to the permissions they hold.
type RoleTable map[auth.Role][]Permission

// DefaultRoles grants read access to admins and everything to super admins.
func DefaultRoles() RoleTable {
	return RoleTable{
		auth.RoleAdmin: {
			NewPermission(ResourceClient, ActionList),
			NewPermission(ResourceClient, ActionView),
			NewPermission(ResourceIdentityProof, ActionList),
			NewPermission(ResourceIdentityProof, ActionDownload),
		},
		auth.RoleSuperAdmin: {PermissionSuperAdmin},
	}
}

// HasPermission reports whether role holds a permission matching requested.
func (t RoleTable) HasPermission(role auth.Role, requested Permission) bool {
	for _, perm := range t[role] {
		if perm.Matches(requested) {
			return true
		}
	}
	return false
}

// Gate is the central authorization point for HTTP routes.
type Gate struct {
	roles  RoleTable
	logger *slog.Logger
}

func NewGate(roles RoleTable, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{roles: roles, logger: logger}
}

// Can checks whether op may perform action on resourceType.
func (g *Gate) Can(op auth.Operator, resourceType string, action Action) bool {
	return g.roles.HasPermission(op.Role, NewPermission(resourceType, action))
}

// RequirePermission returns middleware answering 401 without an operator
// and 403 when the operator's role lacks the permission.
func (g *Gate) RequirePermission(resourceType string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := auth.OperatorFromContext(r.Context())
			if !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !g.Can(op, resourceType, action) {
				g.logger.WarnContext(r.Context(), "permission denied",
					"operator_id", op.ID, "role", op.Role, "permission", NewPermission(resourceType, action))
				httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
