package permission

import (
	"errors"
	"strings"
	"sync"
)

// Wildcard is the permission name meaning "all actions on all resources".
// It maps to the reserved highest bit rather than a registered slot.
const Wildcard = "*"

// ManageAction is the action that implies every other action on the same
// resource. "orders:manage" satisfies a check for "orders:create".
const ManageAction = "manage"

// Registry maps "resource:action" permission names to bit positions within
// a bitmask. Supported widths are 64 and 128 bits.
type Registry struct {
	maxBits     int
	wildcardBit int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates a permission [Registry]. maxBits selects the mask
// width (64 or 128). The highest bit is always reserved for [Wildcard].
func NewRegistry(maxBits int) (*Registry, error) {
	if maxBits != 64 && maxBits != 128 {
		return nil, errors.New("invalid maxBits")
	}

	return &Registry{
		maxBits:     maxBits,
		wildcardBit: maxBits - 1,
		nameToBit:   make(map[string]int),
		bitToName:   make(map[int]string),
	}, nil
}

// Register assigns the next available bit to the named permission. Names
// must be "resource:action" pairs; [Wildcard] is implicit and rejected.
// Returns the assigned bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if name == Wildcard {
		return -1, errors.New("wildcard is implicit and cannot be registered")
	}
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" {
		return -1, errors.New("permission name must be resource:action")
	}

	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered")
	}

	nextBit := len(r.nameToBit)
	if nextBit >= r.wildcardBit {
		return -1, errors.New("permission limit exceeded (wildcard bit reserved)")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// Bit returns the bit index for the named permission, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations. Must be called before the
// registry is used for checks.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// WildcardBit returns the bit reserved for the wildcard grant.
func (r *Registry) WildcardBit() int {
	return r.wildcardBit
}
