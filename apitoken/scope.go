package apitoken

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// Scopes every guestbook deployment knows about.
const (
	ScopeTenantRead      = "tenant:read"
	ScopeGuestbooksRead  = "guestbooks:read"
	ScopeGuestbooksWrite = "guestbooks:write"
	ScopeEntriesRead     = "entries:read"
	ScopeEntriesWrite    = "entries:write"
	ScopeEntriesModerate = "entries:moderate"
	ScopeAnalyticsRead   = "analytics:read"
)

// ErrUnknownScope is returned for a scope name missing from the registry.
var ErrUnknownScope = errors.New("unknown scope")

// Mask is a set of scopes, one bit per registered name.
type Mask uint64

// Has reports whether bit is set.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	return m&(1<<uint(bit)) != 0
}

// With returns m with bit set.
func (m Mask) With(bit int) Mask {
	if bit < 0 || bit >= 64 {
		return m
	}
	return m | 1<<uint(bit)
}

// Registry maps scope names to bit positions within a Mask.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// DefaultRegistry returns a frozen registry holding the built-in scopes.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{
		ScopeTenantRead,
		ScopeGuestbooksRead,
		ScopeGuestbooksWrite,
		ScopeEntriesRead,
		ScopeEntriesWrite,
		ScopeEntriesModerate,
		ScopeAnalyticsRead,
	} {
		if _, err := r.Register(name); err != nil {
			panic(err)
		}
	}
	r.Freeze()
	return r
}

// Register assigns the next free bit to name.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("scope registry frozen")
	}
	if name == "" {
		return -1, errors.New("scope name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("scope already registered")
	}

	next := len(r.nameToBit)
	if next >= 64 {
		return -1, errors.New("scope limit exceeded")
	}
	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Known reports whether name is registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nameToBit[name]
	return ok
}

// MaskOf resolves names to a Mask. The first unknown name fails the call.
func (r *Registry) MaskOf(names []string) (Mask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m Mask
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownScope, name)
		}
		m = m.With(bit)
	}
	return m, nil
}

// Names lists the scopes in m in registration order.
func (r *Registry) Names(m Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, bits.OnesCount64(uint64(m)))
	for bit := 0; bit < 64; bit++ {
		if !m.Has(bit) {
			continue
		}
		if name, ok := r.bitToName[bit]; ok {
			names = append(names, name)
		}
	}
	return names
}

// All lists every registered scope in registration order.
func (r *Registry) All() []string {
	r.mu.RLock()
	n := len(r.nameToBit)
	r.mu.RUnlock()
	if n == 0 {
		return nil
	}
	return r.Names(Mask(^uint64(0) >> (64 - n)))
}
