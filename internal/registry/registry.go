// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package registry tracks live connections and their group memberships.
//
// Groups are derived, not stored: a connection's tenant and role claims
// place it in exactly one tenant group and one role group. The registry is
// the single authority for membership; the hub reads it only through
// MembersOf and AllConnections snapshots.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// shardCount is the number of independent group buckets. Lookups for
// different tenant/role groups contend only when they hash to the same
// shard, so fan-out for one tenant never blocks registration for another.
const shardCount = 16

type groupKind uint8

const (
	groupTenant groupKind = iota
	groupRole
)

// GroupKey identifies a fan-out group. It is a typed key rather than a
// formatted string so tenant ids can never collide with role names.
type GroupKey struct {
	kind  groupKind
	value string
}

// TenantGroup returns the group key for a tenant's connections.
func TenantGroup(tenantID string) GroupKey {
	return GroupKey{kind: groupTenant, value: tenantID}
}

// RoleGroup returns the group key for a role's connections.
func RoleGroup(role event.Role) GroupKey {
	return GroupKey{kind: groupRole, value: string(role)}
}

// String renders the key in its wire/log form.
func (g GroupKey) String() string {
	if g.kind == groupTenant {
		return "tenant_" + g.value
	}
	return "role_" + g.value
}

// connection records one live session's memberships.
type connection struct {
	tenant GroupKey
	role   GroupKey
	userID string
}

type shard struct {
	mu     sync.RWMutex
	groups map[GroupKey]map[string]struct{}
}

// Registry is the authoritative connection-to-group mapping. Safe for
// concurrent use by connection handlers and publishers.
type Registry struct {
	shards [shardCount]*shard

	// connMu guards the connection table; it is separate from the shard
	// locks so a re-register can move a connection between groups without
	// ever appearing in two tenant groups at once (removal precedes insert).
	connMu sync.RWMutex
	conns  map[string]connection
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{conns: make(map[string]connection)}
	for i := range r.shards {
		r.shards[i] = &shard{groups: make(map[GroupKey]map[string]struct{})}
	}
	return r
}

func (r *Registry) shardFor(g GroupKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(g.kind)})
	_, _ = h.Write([]byte(g.value))
	return r.shards[h.Sum32()%shardCount]
}

func (s *shard) add(g GroupKey, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.groups[g]
	if !ok {
		members = make(map[string]struct{})
		s.groups[g] = members
	}
	members[connID] = struct{}{}
}

func (s *shard) remove(g GroupKey, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.groups[g]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(s.groups, g)
		}
	}
}

// Register places connID in its tenant and role groups. Registering an
// already-known connection id overwrites the prior membership (a reconnect
// legitimately re-registers); the connection leaves its old tenant group
// before joining the new one.
func (r *Registry) Register(connID, tenantID string, role event.Role, userID string) {
	tenant := TenantGroup(tenantID)
	roleKey := RoleGroup(role)

	r.connMu.Lock()
	prev, existed := r.conns[connID]
	r.conns[connID] = connection{tenant: tenant, role: roleKey, userID: userID}
	if existed {
		// Remove from old groups first: an observer may briefly see the
		// connection in neither tenant group, never in both.
		r.shardFor(prev.tenant).remove(prev.tenant, connID)
		r.shardFor(prev.role).remove(prev.role, connID)
	}
	r.shardFor(tenant).add(tenant, connID)
	r.shardFor(roleKey).add(roleKey, connID)
	r.connMu.Unlock()

	logging.Debug().
		Str("conn_id", connID).
		Str("tenant", tenantID).
		Str("role", string(role)).
		Bool("replaced", existed).
		Msg("connection registered")
}

// Unregister removes connID from all groups. No-op if unknown.
func (r *Registry) Unregister(connID string) {
	r.connMu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		r.shardFor(conn.tenant).remove(conn.tenant, connID)
		r.shardFor(conn.role).remove(conn.role, connID)
	}
	r.connMu.Unlock()

	if ok {
		logging.Debug().Str("conn_id", connID).Msg("connection unregistered")
	}
}

// MembersOf returns a snapshot of the group's current member connection ids.
// Unknown groups yield an empty slice, never an error.
func (r *Registry) MembersOf(g GroupKey) []string {
	s := r.shardFor(g)
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.groups[g]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// AllConnections returns a snapshot of every registered connection id.
func (r *Registry) AllConnections() []string {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// TargetsFor resolves an event scope to the connection ids it addresses.
func (r *Registry) TargetsFor(scope event.Scope) []string {
	switch scope.Type {
	case event.ScopeTenant:
		return r.MembersOf(TenantGroup(scope.Tenant))
	case event.ScopeRole:
		return r.MembersOf(RoleGroup(scope.Role))
	case event.ScopeBroadcast:
		return r.AllConnections()
	}
	return nil
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return len(r.conns)
}

// TenantOf returns the tenant id a connection registered under.
func (r *Registry) TenantOf(connID string) (string, bool) {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return conn.tenant.value, true
}
