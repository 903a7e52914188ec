package access

import (
	"sync"

	"github.com/nexxore/safeyield/internal/types"
)

// RoleChecker is the opaque capability oracle the engine consults before privileged operations.
type RoleChecker interface {
	HasRole(caller string, role types.Role) bool
}

// StaticRoles is an in-process role table. Admins implicitly hold every role.
type StaticRoles struct {
	mu     sync.RWMutex
	grants map[types.Role]map[string]struct{}
}

// NewStaticRoles creates an empty role table.
func NewStaticRoles() *StaticRoles {
	return &StaticRoles{grants: make(map[types.Role]map[string]struct{})}
}

// Grant gives caller the role.
func (r *StaticRoles) Grant(caller string, role types.Role) *StaticRoles {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[role] == nil {
		r.grants[role] = make(map[string]struct{})
	}
	r.grants[role][caller] = struct{}{}
	return r
}

// Revoke removes the role from caller.
func (r *StaticRoles) Revoke(caller string, role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[role], caller)
}

// HasRole implements RoleChecker.
func (r *StaticRoles) HasRole(caller string, role types.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.grants[role][caller]; ok {
		return true
	}
	_, admin := r.grants[types.RoleAdmin][caller]
	return admin
}
