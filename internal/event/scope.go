// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package event

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Role identifies a portal role. Each connection carries exactly one role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCashier    Role = "cashier"
	RolePharmacist Role = "pharmacist"
	RoleOperations Role = "operations"
	RoleSuperAdmin Role = "super-admin"
)

// Valid reports whether r is a known portal role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCashier, RolePharmacist, RoleOperations, RoleSuperAdmin:
		return true
	}
	return false
}

// ScopeType discriminates the Scope tagged union.
type ScopeType string

const (
	ScopeTenant    ScopeType = "tenant"
	ScopeRole      ScopeType = "role"
	ScopeBroadcast ScopeType = "broadcast"
)

// Scope is the fan-out target of an event: a tenant group, a role group, or
// every live connection. The zero value is invalid; use the constructors.
type Scope struct {
	Type   ScopeType `json:"type"`
	Tenant string    `json:"tenant,omitempty"`
	Role   Role      `json:"role,omitempty"`
}

// TenantScope targets all connections belonging to the given tenant.
func TenantScope(tenantID string) Scope {
	return Scope{Type: ScopeTenant, Tenant: tenantID}
}

// RoleScope targets all connections holding the given role.
func RoleScope(role Role) Scope {
	return Scope{Type: ScopeRole, Role: role}
}

// BroadcastScope targets every live connection.
func BroadcastScope() Scope {
	return Scope{Type: ScopeBroadcast}
}

// Validate checks that the scope discriminator and its operand are coherent.
func (s Scope) Validate() error {
	switch s.Type {
	case ScopeTenant:
		if s.Tenant == "" {
			return fmt.Errorf("tenant scope requires a tenant id")
		}
	case ScopeRole:
		if !s.Role.Valid() {
			return fmt.Errorf("role scope has unknown role %q", s.Role)
		}
	case ScopeBroadcast:
	default:
		return fmt.Errorf("unknown scope type %q", s.Type)
	}
	return nil
}

// String returns the scope's group-key form, e.g. "tenant_pharm-1".
func (s Scope) String() string {
	switch s.Type {
	case ScopeTenant:
		return "tenant_" + s.Tenant
	case ScopeRole:
		return "role_" + string(s.Role)
	case ScopeBroadcast:
		return "broadcast"
	}
	return "invalid"
}

// UnmarshalJSON validates the scope while decoding so malformed scopes are
// rejected at the wire boundary rather than at fan-out time.
func (s *Scope) UnmarshalJSON(data []byte) error {
	type alias Scope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	decoded := Scope(a)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*s = decoded
	return nil
}
