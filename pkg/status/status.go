// Package status implements the weighted, interned status markers that every
// check result and protocol event carries.
//
// A Status is identified by its name. Constructing a status with a name that
// is already registered returns the registered instance, so pointer equality
// is name equality. Statuses are ordered by weight only.
package status

import (
	"fmt"
	"sync"
)

// Status is a severity or structural marker.
// Structural statuses have negative weights and frame the event stream;
// log statuses have weights >= 0.
type Status struct {
	name   string
	weight int
}

var registry = struct {
	mu     sync.RWMutex
	byName map[string]*Status
}{byName: make(map[string]*Status)}

// New returns the status registered under name, creating it with weight if
// it does not exist yet. The weight of an existing status never changes.
func New(name string, weight int) *Status {
	registry.mu.RLock()
	s, ok := registry.byName[name]
	registry.mu.RUnlock()
	if ok {
		return s
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if s, ok := registry.byName[name]; ok {
		return s
	}
	s = &Status{name: name, weight: weight}
	registry.byName[name] = s
	return s
}

// Lookup returns the registered status with the given name.
func Lookup(name string) (*Status, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	s, ok := registry.byName[name]
	return s, ok
}

// Name returns the status name.
func (s *Status) Name() string { return s.name }

// Weight returns the status weight.
func (s *Status) Weight() int { return s.weight }

// String implements fmt.Stringer.
func (s *Status) String() string { return s.name }

// GoString renders the status with its weight, for debugging.
func (s *Status) GoString() string { return fmt.Sprintf("<Status %s %d>", s.name, s.weight) }

// IsStructural reports whether s frames the event stream rather than
// reporting a result.
func (s *Status) IsStructural() bool { return s.weight < 0 }

// Compare returns -1, 0 or +1 comparing the weights of s and other.
func (s *Status) Compare(other *Status) int {
	switch {
	case s.weight < other.weight:
		return -1
	case s.weight > other.weight:
		return 1
	default:
		return 0
	}
}

// Less reports whether s weighs less than other.
func (s *Status) Less(other *Status) bool { return s.weight < other.weight }

// MarshalText encodes the status as its name.
func (s *Status) MarshalText() ([]byte, error) { return []byte(s.name), nil }

// Max returns the heaviest status. Ties keep the later argument, nil entries
// are ignored. It returns nil when no status is given.
func Max(statuses ...*Status) *Status {
	var top *Status
	for _, s := range statuses {
		if s == nil {
			continue
		}
		if top == nil || s.weight >= top.weight {
			top = s
		}
	}
	return top
}
