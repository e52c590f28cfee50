// Package policy contains the hierarchical policy model of the broker:
// environments, systems, and JIT groups with inherited ACLs and constraints,
// plus the constraint and privilege types attached to them.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/groupgate/groupgate/internal/errdefs"
)

// nameRe restricts node names so they can be embedded in a group email
// local part.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9\-]{1,32}$`)

// GroupID identifies a JIT group by its position in the policy tree.
// The external representation is "environment.system.name".
type GroupID struct {
	Environment string
	System      string
	Name        string
}

// NewGroupID builds a GroupID, validating each component.
func NewGroupID(environment, system, name string) (GroupID, error) {
	for _, part := range []string{environment, system, name} {
		if !nameRe.MatchString(part) {
			return GroupID{}, fmt.Errorf("%w: invalid group id component %q", errdefs.ErrInvalidArgument, part)
		}
	}
	return GroupID{Environment: environment, System: system, Name: name}, nil
}

// String renders the id as "environment.system.name".
func (id GroupID) String() string {
	return id.Environment + "." + id.System + "." + id.Name
}

// IsZero reports whether the id is the zero value.
func (id GroupID) IsZero() bool {
	return id == GroupID{}
}

// ParseGroupID parses the "environment.system.name" form.
func ParseGroupID(s string) (GroupID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return GroupID{}, fmt.Errorf("%w: malformed group id %q", errdefs.ErrInvalidArgument, s)
	}
	return NewGroupID(parts[0], parts[1], parts[2])
}
