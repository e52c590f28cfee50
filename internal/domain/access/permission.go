package access

import "strings"

// Mask is a bitmask of permissions on a JIT group or policy node.
type Mask uint32

const (
	// View lets the subject see the node when listing or looking it up.
	View Mask = 1 << iota
	// Join lets the subject request membership in a JIT group.
	Join
	// ApproveSelf lets the subject approve their own join.
	ApproveSelf
	// ApproveOthers lets the subject approve other users' joins.
	ApproveOthers
	// Export lets the subject export an environment policy document.
	Export
	// Reconcile lets the subject run reconciliation for an environment.
	Reconcile
)

// All is the union of every defined permission.
const All = View | Join | ApproveSelf | ApproveOthers | Export | Reconcile

var maskNames = []struct {
	bit  Mask
	name string
}{
	{View, "VIEW"},
	{Join, "JOIN"},
	{ApproveSelf, "APPROVE_SELF"},
	{ApproveOthers, "APPROVE_OTHERS"},
	{Export, "EXPORT"},
	{Reconcile, "RECONCILE"},
}

// Contains reports whether m covers every bit of required.
func (m Mask) Contains(required Mask) bool {
	return m&required == required
}

// Intersects reports whether m shares at least one bit with other.
func (m Mask) Intersects(other Mask) bool {
	return m&other != 0
}

// String renders the mask as a |-separated list of permission names.
func (m Mask) String() string {
	if m == 0 {
		return "NONE"
	}
	parts := make([]string, 0, len(maskNames))
	for _, n := range maskNames {
		if m.Contains(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseMask parses a |-separated list of permission names.
func ParseMask(s string) (Mask, bool) {
	var m Mask
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for _, n := range maskNames {
			if n.name == part {
				m |= n.bit
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return m, m != 0
}
