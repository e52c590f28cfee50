// Package access contains the identity and access-control primitives of the
// broker: principals, permission masks, and ordered allow/deny access control
// lists.
package access

import (
	"fmt"
	"strings"

	"github.com/groupgate/groupgate/internal/errdefs"
)

// PrincipalKind discriminates the principal variants.
type PrincipalKind string

const (
	// KindEndUser is a human user identified by email.
	KindEndUser PrincipalKind = "user"
	// KindGroup is a group identified by its group email.
	KindGroup PrincipalKind = "group"
	// KindServiceAccount is a robot identity identified by email.
	KindServiceAccount PrincipalKind = "serviceAccount"
)

// Principal identifies a user, group, or service account. Equality is by
// kind and email, so Principal is usable as a map key.
type Principal struct {
	Kind  PrincipalKind
	Email string
}

// EndUser returns a user principal for email.
func EndUser(email string) Principal {
	return Principal{Kind: KindEndUser, Email: email}
}

// Group returns a group principal for email.
func Group(email string) Principal {
	return Principal{Kind: KindGroup, Email: email}
}

// ServiceAccount returns a service-account principal for email.
func ServiceAccount(email string) Principal {
	return Principal{Kind: KindServiceAccount, Email: email}
}

// String renders the principal in the canonical "kind:email" form.
func (p Principal) String() string {
	return string(p.Kind) + ":" + p.Email
}

// IsZero reports whether the principal is the zero value.
func (p Principal) IsZero() bool {
	return p.Kind == "" && p.Email == ""
}

// ParsePrincipal parses the canonical "kind:email" form.
func ParsePrincipal(s string) (Principal, error) {
	kind, email, ok := strings.Cut(s, ":")
	if !ok || email == "" {
		return Principal{}, fmt.Errorf("%w: malformed principal %q", errdefs.ErrInvalidArgument, s)
	}
	switch PrincipalKind(kind) {
	case KindEndUser, KindGroup, KindServiceAccount:
		return Principal{Kind: PrincipalKind(kind), Email: email}, nil
	default:
		return Principal{}, fmt.Errorf("%w: unknown principal kind %q", errdefs.ErrInvalidArgument, kind)
	}
}

// Subject is the request-scoped caller identity: one end user plus the full
// set of principals they belong to (the user itself, plus groups resolved
// transitively by the identity provider integration). A Subject is immutable
// for the lifetime of one request.
type Subject struct {
	user       Principal
	principals map[Principal]struct{}
}

// NewSubject creates a Subject for user. The user principal itself is always
// part of the principal set; memberships lists the additional principals the
// user belongs to.
func NewSubject(user Principal, memberships ...Principal) *Subject {
	principals := make(map[Principal]struct{}, len(memberships)+1)
	principals[user] = struct{}{}
	for _, p := range memberships {
		principals[p] = struct{}{}
	}
	return &Subject{user: user, principals: principals}
}

// User returns the end-user principal of this subject.
func (s *Subject) User() Principal { return s.user }

// HasPrincipal reports whether p is among the subject's principals.
func (s *Subject) HasPrincipal(p Principal) bool {
	_, ok := s.principals[p]
	return ok
}

// Principals returns a copy of the subject's principal set.
func (s *Subject) Principals() []Principal {
	out := make([]Principal, 0, len(s.principals))
	for p := range s.principals {
		out = append(out, p)
	}
	return out
}
