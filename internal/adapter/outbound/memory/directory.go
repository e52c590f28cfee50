// Package memory provides in-memory implementations of the outbound ports,
// used in tests and for local development without cloud credentials.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Directory is an in-memory outbound.CloudIdentity. Expired memberships are
// dropped lazily on read, mirroring how the real directory hides them.
type Directory struct {
	mu          sync.Mutex
	nextKey     int
	groups      map[string]*groupRecord
	clock       func() time.Time
	createCalls int
}

type groupRecord struct {
	group       outbound.CloudGroup
	profile     outbound.AccessProfile
	memberships map[string]*outbound.Membership
}

var _ outbound.CloudIdentity = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		groups: make(map[string]*groupRecord),
		clock:  time.Now,
	}
}

// SetClock overrides the time source, for expiry tests.
func (d *Directory) SetClock(clock func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
}

// CreateCalls returns how many groups were created, for idempotence tests.
func (d *Directory) CreateCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createCalls
}

func (d *Directory) byKey(key string) (*groupRecord, error) {
	for _, rec := range d.groups {
		if rec.group.Key == key {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: group key %s", errdefs.ErrResourceNotFound, key)
}

// GetGroup implements outbound.CloudIdentity.
func (d *Directory) GetGroup(_ context.Context, email string) (*outbound.CloudGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.groups[email]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", errdefs.ErrResourceNotFound, email)
	}
	g := rec.group
	return &g, nil
}

// LookupGroup implements outbound.CloudIdentity.
func (d *Directory) LookupGroup(_ context.Context, email string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.groups[email]
	if !ok {
		return "", fmt.Errorf("%w: group %s", errdefs.ErrResourceNotFound, email)
	}
	return rec.group.Key, nil
}

// CreateGroup implements outbound.CloudIdentity.
func (d *Directory) CreateGroup(_ context.Context, email, description string, profile outbound.AccessProfile) (*outbound.CloudGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[email]; ok {
		return nil, fmt.Errorf("%w: group %s", errdefs.ErrAlreadyExists, email)
	}
	d.nextKey++
	d.createCalls++
	rec := &groupRecord{
		group: outbound.CloudGroup{
			Key:         fmt.Sprintf("groups/%08d", d.nextKey),
			Email:       email,
			Description: description,
		},
		profile:     profile,
		memberships: make(map[string]*outbound.Membership),
	}
	d.groups[email] = rec
	g := rec.group
	return &g, nil
}

// Profile returns the access profile a group was created with.
func (d *Directory) Profile(email string) (outbound.AccessProfile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.groups[email]
	if !ok {
		return "", false
	}
	return rec.profile, true
}

// PatchGroupDescription implements outbound.CloudIdentity.
func (d *Directory) PatchGroupDescription(_ context.Context, key, description string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.byKey(key)
	if err != nil {
		return err
	}
	rec.group.Description = description
	return nil
}

// AddMembership implements outbound.CloudIdentity.
func (d *Directory) AddMembership(_ context.Context, key, memberEmail string, expiry time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.byKey(key)
	if err != nil {
		return err
	}
	rec.memberships[memberEmail] = &outbound.Membership{MemberEmail: memberEmail, Expiry: expiry}
	return nil
}

// AddPermanentMembership implements outbound.CloudIdentity.
func (d *Directory) AddPermanentMembership(_ context.Context, key, memberEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.byKey(key)
	if err != nil {
		return err
	}
	rec.memberships[memberEmail] = &outbound.Membership{MemberEmail: memberEmail}
	return nil
}

// DeleteMembership implements outbound.CloudIdentity.
func (d *Directory) DeleteMembership(_ context.Context, key, memberEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.byKey(key)
	if err != nil {
		return err
	}
	delete(rec.memberships, memberEmail)
	return nil
}

// SearchGroupsByPrefix implements outbound.CloudIdentity.
func (d *Directory) SearchGroupsByPrefix(_ context.Context, prefix string) ([]*outbound.CloudGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*outbound.CloudGroup
	for email, rec := range d.groups {
		if strings.HasPrefix(email, prefix) {
			g := rec.group
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// ListMemberships implements outbound.CloudIdentity.
func (d *Directory) ListMemberships(_ context.Context, key string) ([]*outbound.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.byKey(key)
	if err != nil {
		return nil, err
	}
	now := d.clock()
	var out []*outbound.Membership
	for _, m := range rec.memberships {
		if !m.Expiry.IsZero() && !m.Expiry.After(now) {
			continue
		}
		clone := *m
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberEmail < out[j].MemberEmail })
	return out, nil
}
