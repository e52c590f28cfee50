package policy

import (
	"fmt"
	"strings"

	"github.com/groupgate/groupgate/internal/errdefs"
)

// ResourceKind enumerates the resource-manager resource kinds IAM bindings
// can target.
type ResourceKind string

const (
	// KindProject targets a project.
	KindProject ResourceKind = "projects"
	// KindFolder targets a folder.
	KindFolder ResourceKind = "folders"
	// KindOrganization targets an organization.
	KindOrganization ResourceKind = "organizations"
)

// ResourceID identifies a project, folder, or organization.
type ResourceID struct {
	Kind ResourceKind
	ID   string
}

// String renders the id in the "projects/my-project" form.
func (r ResourceID) String() string {
	return string(r.Kind) + "/" + r.ID
}

// ParseResourceID parses the "kind/id" form.
func ParseResourceID(s string) (ResourceID, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ResourceID{}, fmt.Errorf("%w: malformed resource id %q", errdefs.ErrInvalidArgument, s)
	}
	switch ResourceKind(kind) {
	case KindProject, KindFolder, KindOrganization:
		return ResourceID{Kind: ResourceKind(kind), ID: id}, nil
	default:
		return ResourceID{}, fmt.Errorf("%w: unsupported resource kind %q", errdefs.ErrInvalidArgument, kind)
	}
}

// Privilege is a grantable artifact associated with a JIT group. The set of
// variants is open-ended; provisioners filter for the kinds they understand
// and ignore the rest.
type Privilege interface {
	privilege()
}

// IAMRoleBinding grants a role on a resource to the group's members for the
// lifetime of the group. An empty Condition is a distinct variant from a
// non-empty one.
type IAMRoleBinding struct {
	Resource    ResourceID
	Role        string
	Description string
	Condition   string
}

func (IAMRoleBinding) privilege() {}

// OpaquePrivilege preserves privilege variants this build does not
// understand, so documents round-trip losslessly.
type OpaquePrivilege struct {
	Type string
	Spec map[string]any
}

func (OpaquePrivilege) privilege() {}
