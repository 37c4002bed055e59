// Package resolver provides GroupResolver implementations.
package resolver

import (
	"context"
	"fmt"

	"github.com/quillchat/mediastore"
)

// Static is a map-based GroupResolver for testing and simple deployments.
// It answers membership queries from an in-memory map of group address to
// member addresses. Safe for concurrent use (read-only after creation).
type Static struct {
	groups map[string][]string
}

// NewStatic creates a Static resolver from a map of group address to member
// addresses. The map and its member slices are copied to prevent external
// mutation.
func NewStatic(groups map[string][]string) *Static {
	m := make(map[string][]string, len(groups))
	for addr, members := range groups {
		m[addr] = append([]string(nil), members...)
	}
	return &Static{groups: m}
}

// Compile-time interface check.
var _ mediastore.GroupResolver = (*Static)(nil)

// IsGroup reports whether the address names a known group.
func (s *Static) IsGroup(address string) bool {
	_, ok := s.groups[address]
	return ok
}

// Members returns the member addresses of a group.
func (s *Static) Members(_ context.Context, address string) ([]string, error) {
	members, ok := s.groups[address]
	if !ok {
		return nil, fmt.Errorf("group not found: %s", address)
	}
	return append([]string(nil), members...), nil
}
