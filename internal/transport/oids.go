package transport

import (
	"slices"
	"strconv"
	"strings"
)

// OIDSet is the set of identifiers a process registers as a receiver for.
// It is built once at startup and handed unchanged to every registration.
type OIDSet struct {
	ids []uint16
}

// NewOIDSet creates a set holding ids in insertion order, without duplicates.
func NewOIDSet(ids ...uint16) *OIDSet {
	s := &OIDSet{}
	for _, id := range ids {
		s.Append(id)
	}
	return s
}

// Append adds id unless it is already present.
func (s *OIDSet) Append(id uint16) {
	if !slices.Contains(s.ids, id) {
		s.ids = append(s.ids, id)
	}
}

// IDs returns a copy of the identifiers.
func (s *OIDSet) IDs() []uint16 {
	return slices.Clone(s.ids)
}

// Primary returns the first identifier, used as the source of telegrams the
// process sends itself. Zero when the set is empty.
func (s *OIDSet) Primary() uint16 {
	if len(s.ids) == 0 {
		return 0
	}
	return s.ids[0]
}

// Len returns the number of identifiers.
func (s *OIDSet) Len() int {
	return len(s.ids)
}

func (s *OIDSet) String() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}
