// Package outbound declares the capability interfaces the broker core
// depends on. Adapters under internal/adapter/outbound provide the
// production implementations.
package outbound

import (
	"context"
	"time"
)

// AccessProfile selects the security posture of a created cloud group.
type AccessProfile string

const (
	// ProfileRestricted is the default, locked-down group profile.
	ProfileRestricted AccessProfile = "RESTRICTED"
	// ProfileGKECompatible relaxes the profile so the group is usable in
	// GKE RBAC bindings.
	ProfileGKECompatible AccessProfile = "GKE_COMPATIBLE"
)

// CloudGroup is the broker's view of a cloud identity group.
type CloudGroup struct {
	// Key is the provider-assigned resource name, e.g. "groups/01abc".
	Key string
	// Email is the group's address and primary identifier.
	Email string
	// Description is the free-text description, which the broker also uses
	// to persist its checksum tag.
	Description string
}

// Membership is one member of a cloud group.
type Membership struct {
	MemberEmail string
	// Expiry is the instant the provider drops the membership. Zero means
	// permanent.
	Expiry time.Time
}

// CloudIdentity is the capability interface for the cloud identity group
// directory. Absence is signaled with errdefs.ErrResourceNotFound, conflicts
// on creation with errdefs.ErrAlreadyExists; denials map to
// errdefs.ErrAccessDenied and transport failures to errdefs.ErrIO.
type CloudIdentity interface {
	// GetGroup returns the group with the given email.
	GetGroup(ctx context.Context, email string) (*CloudGroup, error)

	// LookupGroup resolves a group email to its resource key without
	// fetching the full group.
	LookupGroup(ctx context.Context, email string) (string, error)

	// CreateGroup creates a security group with the given profile and
	// returns it.
	CreateGroup(ctx context.Context, email, description string, profile AccessProfile) (*CloudGroup, error)

	// PatchGroupDescription replaces the description of the group with key.
	PatchGroupDescription(ctx context.Context, key, description string) error

	// AddMembership adds or refreshes a time-bounded membership.
	AddMembership(ctx context.Context, key, memberEmail string, expiry time.Time) error

	// AddPermanentMembership adds a membership without expiry, used for the
	// broker's own service identity on groups it manages.
	AddPermanentMembership(ctx context.Context, key, memberEmail string) error

	// DeleteMembership removes a member from the group.
	DeleteMembership(ctx context.Context, key, memberEmail string) error

	// SearchGroupsByPrefix returns all groups whose email starts with
	// prefix.
	SearchGroupsByPrefix(ctx context.Context, prefix string) ([]*CloudGroup, error)

	// ListMemberships returns the current members of the group with key.
	ListMemberships(ctx context.Context, key string) ([]*Membership, error)
}
