package auth

import "time"

// Router-scoped roles. RoleOperator can manage model/provider registry
// entries (promote/demote, enable/disable); RoleViewer can only read
// routing decisions and usage.
const (
	RoleOperator = "router-operator"
	RoleViewer   = "router-viewer"
)

// Tenant is the admission pipeline's billing and isolation boundary: every
// Request carries a TenantID that the pipeline's budget tracker, ledger,
// and guardian engine key their per-tenant state on.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"` // pricing plan, resolved against pkg/finance budgets
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"` // ACTIVE, SUSPENDED
}

// User is an authenticated caller within a tenant, e.g. the operator
// invoking `atprouter evidence sign` or driving the registry's
// promotion/demotion endpoints.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	TenantID  string    `json:"tenant_id"`
	Roles     []string  `json:"roles"` // RoleOperator, RoleViewer
	CreatedAt time.Time `json:"created_at"`
}

// Principal is any entity making a request against the router (User,
// service account, or an internal system caller like the improvement
// pipeline).
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
	// HasPermission reports whether the principal may perform a
	// registry-mutating action (promote/demote/enable/disable). Read-only
	// admission requests don't consult this; it gates the management
	// surface only.
	HasPermission(perm string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID       string
	TenantID string
	Roles    []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetTenantID() string {
	return b.TenantID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) HasPermission(perm string) bool {
	for _, role := range b.Roles {
		if role == RoleOperator {
			return true
		}
	}
	return false
}
