package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGroup(t *testing.T, privileges []policy.Privilege, gke bool) *policy.GroupPolicy {
	t.Helper()
	env, err := policy.NewEnvironmentPolicy("prod", "Production", policy.Metadata{}, access.ACL{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("payments", access.ACL{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	group, err := sys.AddGroup(policy.GroupSpec{
		Name:        "db-admins",
		Description: "Database administrators",
		Privileges:  privileges,
		GKEEnabled:  gke,
	})
	if err != nil {
		t.Fatal(err)
	}
	return group
}

// fakeDirectory is an in-memory CloudIdentity.
type fakeDirectory struct {
	mu          sync.Mutex
	groups      map[string]*outbound.CloudGroup
	profiles    map[string]outbound.AccessProfile
	memberships map[string][]*outbound.Membership
	createCalls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		groups:      map[string]*outbound.CloudGroup{},
		profiles:    map[string]outbound.AccessProfile{},
		memberships: map[string][]*outbound.Membership{},
	}
}

func (d *fakeDirectory) GetGroup(_ context.Context, email string) (*outbound.CloudGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[email]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", errdefs.ErrResourceNotFound, email)
	}
	clone := *g
	return &clone, nil
}

func (d *fakeDirectory) LookupGroup(_ context.Context, email string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[email]
	if !ok {
		return "", fmt.Errorf("%w: group %s", errdefs.ErrResourceNotFound, email)
	}
	return g.Key, nil
}

func (d *fakeDirectory) CreateGroup(_ context.Context, email, description string, profile outbound.AccessProfile) (*outbound.CloudGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[email]; ok {
		return nil, fmt.Errorf("%w: group %s", errdefs.ErrAlreadyExists, email)
	}
	d.createCalls++
	g := &outbound.CloudGroup{
		Key:         "groups/" + email,
		Email:       email,
		Description: description,
	}
	d.groups[email] = g
	d.profiles[email] = profile
	clone := *g
	return &clone, nil
}

func (d *fakeDirectory) PatchGroupDescription(_ context.Context, key, description string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		if g.Key == key {
			g.Description = description
			return nil
		}
	}
	return fmt.Errorf("%w: key %s", errdefs.ErrResourceNotFound, key)
}

func (d *fakeDirectory) AddMembership(_ context.Context, key, memberEmail string, expiry time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberships[key] = append(d.memberships[key], &outbound.Membership{MemberEmail: memberEmail, Expiry: expiry})
	return nil
}

func (d *fakeDirectory) AddPermanentMembership(_ context.Context, key, memberEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberships[key] = append(d.memberships[key], &outbound.Membership{MemberEmail: memberEmail})
	return nil
}

func (d *fakeDirectory) DeleteMembership(_ context.Context, key, memberEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.memberships[key][:0]
	for _, m := range d.memberships[key] {
		if m.MemberEmail != memberEmail {
			kept = append(kept, m)
		}
	}
	d.memberships[key] = kept
	return nil
}

func (d *fakeDirectory) SearchGroupsByPrefix(_ context.Context, prefix string) ([]*outbound.CloudGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*outbound.CloudGroup
	for _, g := range d.groups {
		if strings.HasPrefix(g.Email, prefix) {
			clone := *g
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ListMemberships(_ context.Context, key string) ([]*outbound.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*outbound.Membership(nil), d.memberships[key]...), nil
}

// fakeResourceManager is an in-memory ResourceManager that can be told to
// fail for specific resources.
type fakeResourceManager struct {
	mu       sync.Mutex
	policies map[policy.ResourceID]*outbound.IAMPolicy
	failures map[policy.ResourceID]error
	calls    int
}

func newFakeResourceManager() *fakeResourceManager {
	return &fakeResourceManager{
		policies: map[policy.ResourceID]*outbound.IAMPolicy{},
		failures: map[policy.ResourceID]error{},
	}
}

func (r *fakeResourceManager) ModifyIAMPolicy(_ context.Context, resource policy.ResourceID, transform func(*outbound.IAMPolicy) error, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.failures[resource]; err != nil {
		return err
	}
	current, ok := r.policies[resource]
	if !ok {
		current = &outbound.IAMPolicy{}
		r.policies[resource] = current
	}
	return transform(current)
}

func (r *fakeResourceManager) members(resource policy.ResourceID, role string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[resource]
	if !ok {
		return nil
	}
	for _, b := range p.Bindings {
		if b.Role == role {
			return b.Members
		}
	}
	return nil
}

func newTestProvisioner(t *testing.T) (*Provisioner, *fakeDirectory, *fakeResourceManager) {
	t.Helper()
	mapping, err := NewGroupMapping("example.com")
	if err != nil {
		t.Fatal(err)
	}
	directory := newFakeDirectory()
	resources := newFakeResourceManager()
	return NewProvisioner(mapping, directory, resources, testLogger()), directory, resources
}

func TestProvisionMembership(t *testing.T) {
	provisioner, directory, resources := newTestProvisioner(t)
	group := testGroup(t, []policy.Privilege{
		policy.IAMRoleBinding{
			Resource: policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"},
			Role:     "roles/compute.admin",
		},
	}, false)

	expiry := time.Now().Add(time.Hour)
	member, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("alice@example.com"), expiry)
	if err != nil {
		t.Fatalf("ProvisionMembership: %v", err)
	}
	if member.Group != group.ID() || !member.Expiry.Equal(expiry) {
		t.Errorf("membership = %+v", member)
	}

	email := "jit.prod.payments.db-admins@example.com"
	cloudGroup, err := directory.GetGroup(context.Background(), email)
	if err != nil {
		t.Fatalf("group not created: %v", err)
	}
	if directory.profiles[email] != outbound.ProfileRestricted {
		t.Errorf("profile = %s, want RESTRICTED", directory.profiles[email])
	}

	members, _ := directory.ListMemberships(context.Background(), cloudGroup.Key)
	if len(members) != 1 || members[0].MemberEmail != "alice@example.com" || !members[0].Expiry.Equal(expiry) {
		t.Errorf("memberships = %+v", members)
	}

	granted := resources.members(policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"}, "roles/compute.admin")
	if len(granted) != 1 || granted[0] != "group:"+email {
		t.Errorf("IAM members = %v", granted)
	}

	// The description carries the checksum of the current bindings.
	_, checksum := ParseDescription(cloudGroup.Description)
	if want := ChecksumBindings(group.IAMRoleBindings()); checksum != want {
		t.Errorf("stored checksum = %08x, want %08x", checksum, want)
	}
}

func TestProvisionMembershipRejectsPastExpiry(t *testing.T) {
	provisioner, _, _ := newTestProvisioner(t)
	group := testGroup(t, nil, false)

	_, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("alice@example.com"), time.Now().Add(-time.Minute))
	if !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("got %v, want ErrInvalidArgument", err)
	}
}

func TestProvisionMembershipGKEProfile(t *testing.T) {
	provisioner, directory, _ := newTestProvisioner(t)
	group := testGroup(t, nil, true)

	if _, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("alice@example.com"), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if got := directory.profiles["jit.prod.payments.db-admins@example.com"]; got != outbound.ProfileGKECompatible {
		t.Errorf("profile = %s, want GKE_COMPATIBLE", got)
	}
}

func TestProvisionAccessIsIdempotent(t *testing.T) {
	provisioner, directory, resources := newTestProvisioner(t)
	group := testGroup(t, []policy.Privilege{
		policy.IAMRoleBinding{
			Resource: policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"},
			Role:     "roles/viewer",
		},
	}, false)

	if _, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("alice@example.com"), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := resources.calls
	if callsAfterFirst == 0 {
		t.Fatal("no IAM calls recorded")
	}
	if directory.createCalls != 1 {
		t.Fatalf("createCalls = %d", directory.createCalls)
	}

	// Unchanged bindings: the stored checksum matches, so IAM is untouched.
	if err := provisioner.ProvisionAccess(context.Background(), group.ID(), group.IAMRoleBindings()); err != nil {
		t.Fatal(err)
	}
	if resources.calls != callsAfterFirst {
		t.Errorf("IAM calls = %d after no-op reconcile, want %d", resources.calls, callsAfterFirst)
	}

	// A second join reuses the group.
	if _, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("bob@example.com"), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if directory.createCalls != 1 {
		t.Errorf("createCalls = %d after second join, want 1", directory.createCalls)
	}
}

func TestProvisionAccessKeepsDriftSignalOnFailure(t *testing.T) {
	provisioner, directory, resources := newTestProvisioner(t)
	okResource := policy.ResourceID{Kind: policy.KindProject, ID: "proj-ok"}
	badResource := policy.ResourceID{Kind: policy.KindProject, ID: "proj-bad"}
	group := testGroup(t, []policy.Privilege{
		policy.IAMRoleBinding{Resource: okResource, Role: "roles/viewer"},
		policy.IAMRoleBinding{Resource: badResource, Role: "roles/viewer"},
	}, false)

	resources.failures[badResource] = fmt.Errorf("%w: backend unavailable", errdefs.ErrIO)

	_, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("alice@example.com"), time.Now().Add(time.Hour))
	if !errors.Is(err, errdefs.ErrIO) {
		t.Fatalf("got %v, want ErrIO", err)
	}

	// The healthy resource was still updated.
	email := "jit.prod.payments.db-admins@example.com"
	if granted := resources.members(okResource, "roles/viewer"); len(granted) != 1 || granted[0] != "group:"+email {
		t.Errorf("healthy resource members = %v", granted)
	}

	// The checksum tag must not be written, so the next run retries.
	cloudGroup, _ := directory.GetGroup(context.Background(), email)
	if _, checksum := ParseDescription(cloudGroup.Description); checksum == ChecksumBindings(group.IAMRoleBindings()) {
		t.Error("checksum written despite a failed resource update")
	}

	// Once the failure clears, reconciliation converges and tags.
	delete(resources.failures, badResource)
	if err := provisioner.ProvisionAccess(context.Background(), group.ID(), group.IAMRoleBindings()); err != nil {
		t.Fatal(err)
	}
	cloudGroup, _ = directory.GetGroup(context.Background(), email)
	if _, checksum := ParseDescription(cloudGroup.Description); checksum != ChecksumBindings(group.IAMRoleBindings()) {
		t.Error("checksum missing after successful retry")
	}
}

func TestProvisionAccessRemovesStaleBindings(t *testing.T) {
	provisioner, _, resources := newTestProvisioner(t)
	resource := policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"}
	group := testGroup(t, []policy.Privilege{
		policy.IAMRoleBinding{Resource: resource, Role: "roles/viewer"},
	}, false)

	email := "jit.prod.payments.db-admins@example.com"
	resources.policies[resource] = &outbound.IAMPolicy{
		Bindings: []*outbound.IAMBinding{
			{Role: "roles/owner", Members: []string{"group:" + email, "user:keep@example.com"}},
		},
	}

	if _, err := provisioner.ProvisionMembership(context.Background(), group, access.EndUser("alice@example.com"), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if got := resources.members(resource, "roles/owner"); len(got) != 1 || got[0] != "user:keep@example.com" {
		t.Errorf("roles/owner members = %v, want only the unrelated member", got)
	}
	if got := resources.members(resource, "roles/viewer"); len(got) != 1 || got[0] != "group:"+email {
		t.Errorf("roles/viewer members = %v", got)
	}
}

func TestReconcileSkipsUnprovisionedGroup(t *testing.T) {
	provisioner, _, resources := newTestProvisioner(t)
	group := testGroup(t, []policy.Privilege{
		policy.IAMRoleBinding{Resource: policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"}, Role: "roles/viewer"},
	}, false)

	if err := provisioner.Reconcile(context.Background(), group); err != nil {
		t.Fatal(err)
	}
	if resources.calls != 0 {
		t.Errorf("IAM calls = %d for unprovisioned group, want 0", resources.calls)
	}
}

func TestProvisionedGroups(t *testing.T) {
	provisioner, directory, _ := newTestProvisioner(t)
	ctx := context.Background()

	for _, email := range []string{
		"jit.prod.payments.db-admins@example.com",
		"jit.prod.billing.operators@example.com",
		"jit.prod.broken@example.com", // malformed, skipped
	} {
		if _, err := directory.CreateGroup(ctx, email, "", outbound.ProfileRestricted); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := provisioner.ProvisionedGroups(ctx, "prod")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].ID.String() != "prod.billing.operators" || groups[1].ID.String() != "prod.payments.db-admins" {
		t.Errorf("groups = %v, %v", groups[0].ID, groups[1].ID)
	}
}
