package permission

import (
	"errors"
	"sync"
)

// Table composes a [Registry] with per-role masks. Roles come from the
// closed [Role] set; the permission list inside a role stays data-driven
// (strings registered against the registry).
type Table struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[Role]masker
	frozen bool
}

type masker interface {
	Has(bit int, wildcardReserved bool) bool
	Set(bit int)
}

// NewTable creates an empty role table over the given registry.
func NewTable(registry *Registry) *Table {
	return &Table{
		registry: registry,
		roles:    make(map[Role]masker),
	}
}

// GrantRole assigns the listed permissions to a role. Permission names must
// already be registered; [Wildcard] grants everything. Must be called
// before [Table.Freeze]; each role may be granted at most once.
func (t *Table) GrantRole(role Role, permissionNames []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return errors.New("permission table frozen")
	}
	if !role.Valid() {
		return errors.New("unknown role: " + string(role))
	}
	if _, exists := t.roles[role]; exists {
		return errors.New("role already granted: " + string(role))
	}

	var mask masker
	switch t.registry.maxBits {
	case 64:
		m := Mask64(0)
		mask = &m
	case 128:
		mask = &Mask128{}
	default:
		return errors.New("invalid registry width")
	}

	for _, perm := range permissionNames {
		if perm == Wildcard {
			mask.Set(t.registry.wildcardBit)
			continue
		}
		bit, ok := t.registry.Bit(perm)
		if !ok {
			return errors.New("permission not registered: " + perm)
		}
		mask.Set(bit)
	}

	t.roles[role] = mask
	return nil
}

// Freeze makes the table immutable. Checks on an unfrozen table work but
// freezing is required before the table is shared across goroutines.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// HasPermission reports whether the role is granted resource:action.
// A grant of resource:manage or the wildcard satisfies any action on the
// resource. Unknown roles and unregistered permissions always deny.
func (t *Table) HasPermission(role Role, resource, action string) bool {
	if resource == "" || action == "" {
		return false
	}

	t.mu.RLock()
	mask, ok := t.roles[role]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	if bit, ok := t.registry.Bit(resource + ":" + action); ok {
		if mask.Has(bit, true) {
			return true
		}
	} else if mask.Has(t.registry.wildcardBit, false) {
		// Unregistered permission: only the wildcard can grant it.
		return true
	}

	if action == ManageAction {
		return false
	}
	if bit, ok := t.registry.Bit(resource + ":" + ManageAction); ok {
		return mask.Has(bit, true)
	}
	return false
}

// RoleGranted reports whether the role has been loaded into the table.
func (t *Table) RoleGranted(role Role) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roles[role]
	return ok
}

// Count returns the number of granted roles.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roles)
}
