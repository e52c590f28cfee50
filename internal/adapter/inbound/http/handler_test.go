package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/groupgate/groupgate/internal/adapter/outbound/memory"
	"github.com/groupgate/groupgate/internal/adapter/outbound/token"
	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/catalog"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/domain/provision"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// stubEvaluator maps literal expressions to outcomes.
type stubEvaluator struct{}

func (stubEvaluator) Evaluate(_ context.Context, expression string, _ map[string]any) (bool, error) {
	switch expression {
	case "allow":
		return true, nil
	case "deny":
		return false, nil
	default:
		return false, fmt.Errorf("unknown expression %q", expression)
	}
}

type fakeSource struct {
	envs map[string]*policy.EnvironmentPolicy
}

func (s *fakeSource) Environments(_ context.Context) ([]outbound.EnvironmentSummary, error) {
	var out []outbound.EnvironmentSummary
	for name, env := range s.envs {
		out = append(out, outbound.EnvironmentSummary{Name: name, Description: env.Description()})
	}
	return out, nil
}

func (s *fakeSource) Environment(_ context.Context, name string) (*policy.EnvironmentPolicy, error) {
	env, ok := s.envs[name]
	if !ok {
		return nil, fmt.Errorf("%w: environment %s", errdefs.ErrResourceNotFound, name)
	}
	return env, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds the full middleware + handler stack over one
// environment:
//
//	prod
//	└── payments
//	    └── db-admins   alice self-service, bob needs carol's approval
func newTestServer(t *testing.T) (*httptest.Server, *memory.Directory) {
	t.Helper()

	alice := access.EndUser("alice@example.com")
	bob := access.EndUser("bob@example.com")
	carol := access.EndUser("carol@example.com")

	env, err := policy.NewEnvironmentPolicy("prod", "Production", policy.Metadata{},
		access.ACL{Entries: []access.Entry{
			access.AllowEntry(alice, access.View),
			access.AllowEntry(bob, access.View),
			access.AllowEntry(carol, access.View),
		}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("payments", access.ACL{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sys.AddGroup(policy.GroupSpec{
		Name:        "db-admins",
		Description: "Database administrators",
		ACL: access.ACL{Entries: []access.Entry{
			access.AllowEntry(alice, access.View | access.Join | access.ApproveSelf),
			access.AllowEntry(bob, access.View | access.Join),
			access.AllowEntry(carol, access.View | access.ApproveOthers),
		}},
		Constraints: map[policy.Class][]policy.Constraint{
			policy.ClassJoin: {
				&policy.ExpiryConstraint{Min: 30 * time.Minute, Max: 8 * time.Hour},
			},
		},
		Privileges: []policy.Privilege{
			policy.IAMRoleBinding{
				Resource: policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"},
				Role:     "roles/cloudsql.admin",
			},
		},
	}); err != nil {
		t.Fatal(err)
	}

	mapping, err := provision.NewGroupMapping("example.com")
	if err != nil {
		t.Fatal(err)
	}
	directory := memory.NewDirectory()
	logger := testLogger()
	provisioner := provision.NewProvisioner(mapping, directory, memory.NewResourceManager(), logger)
	source := &fakeSource{envs: map[string]*policy.EnvironmentPolicy{"prod": env}}
	cat := catalog.NewCatalog(source, stubEvaluator{}, provisioner, logger)

	signer, err := token.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	handler := NewHandler(cat, signer, time.Hour, metrics, logger)

	var api http.Handler = handler.Routes()
	api = SubjectMiddleware(logger)(api)
	api = RequestIDMiddleware(api)
	api = MetricsMiddleware(metrics)(api)

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv, directory
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, user string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set(HeaderUserEmail, user)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("response %q: %v", data, err)
		}
	}
	return resp, decoded
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/environments", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestListEnvironments(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodGet, "/api/environments", "mallory@example.com", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	envs := body["environments"].([]any)
	if len(envs) != 1 {
		t.Fatalf("environments = %v", envs)
	}
}

func TestEnvironmentViewGate(t *testing.T) {
	srv, _ := newTestServer(t)

	// Denied subject and unknown environment look identical.
	for _, tt := range []struct{ user, path string }{
		{"mallory@example.com", "/api/environments/prod"},
		{"alice@example.com", "/api/environments/nosuch"},
	} {
		resp, _ := doRequest(t, srv, http.MethodGet, tt.path, tt.user, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s as %s: status = %d, want 404", tt.path, tt.user, resp.StatusCode)
		}
	}

	resp, body := doRequest(t, srv, http.MethodGet, "/api/environments/prod", "alice@example.com", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["name"] != "prod" {
		t.Errorf("name = %v", body["name"])
	}
	systems := body["systems"].([]any)
	if len(systems) != 1 {
		t.Fatalf("systems = %v", systems)
	}
}

func TestGetGroup(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodGet,
		"/api/environments/prod/systems/payments/groups/db-admins", "bob@example.com", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["cloudGroupEmail"] != "jit.prod.payments.db-admins@example.com" {
		t.Errorf("cloudGroupEmail = %v", body["cloudGroupEmail"])
	}
	if body["requiresApproval"] != true {
		t.Errorf("requiresApproval = %v for bob", body["requiresApproval"])
	}
	if body["provisioned"] != false {
		t.Errorf("provisioned = %v", body["provisioned"])
	}
	inputs := body["inputs"].([]any)
	if len(inputs) != 1 {
		t.Fatalf("inputs = %v", inputs)
	}
}

func TestSelfServiceJoin(t *testing.T) {
	srv, directory := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost,
		"/api/environments/prod/systems/payments/groups/db-admins/join", "alice@example.com",
		map[string]any{"inputs": map[string]string{"expiry": "60"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	membership := body["membership"].(map[string]any)
	if membership["group"] != "prod.payments.db-admins" {
		t.Errorf("group = %v", membership["group"])
	}

	key, err := directory.LookupGroup(context.Background(), "jit.prod.payments.db-admins@example.com")
	if err != nil {
		t.Fatalf("group not provisioned: %v", err)
	}
	memberships, err := directory.ListMemberships(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(memberships) != 1 || memberships[0].MemberEmail != "alice@example.com" {
		t.Errorf("memberships = %+v", memberships)
	}
}

func TestJoinRejectsOutOfRangeExpiry(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost,
		"/api/environments/prod/systems/payments/groups/db-admins/join", "alice@example.com",
		map[string]any{"inputs": map[string]string{"expiry": "5"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestJoinDryRun(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost,
		"/api/environments/prod/systems/payments/groups/db-admins/join", "alice@example.com",
		map[string]any{"inputs": map[string]string{"expiry": "60"}, "dryRun": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["accessAllowed"] != true {
		t.Errorf("accessAllowed = %v", body["accessAllowed"])
	}
}

func TestProposalRoundTrip(t *testing.T) {
	srv, directory := newTestServer(t)

	// bob's join yields a proposal, not a membership.
	resp, body := doRequest(t, srv, http.MethodPost,
		"/api/environments/prod/systems/payments/groups/db-admins/join", "bob@example.com",
		map[string]any{"inputs": map[string]string{"expiry": "120"}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	proposal := body["proposal"].(map[string]any)
	tok := proposal["token"].(string)
	if tok == "" {
		t.Fatal("empty proposal token")
	}
	recipients := proposal["recipients"].([]any)
	if len(recipients) != 1 || recipients[0] != "user:carol@example.com" {
		t.Errorf("recipients = %v", recipients)
	}

	// carol approves the proposal.
	resp, body = doRequest(t, srv, http.MethodPost, "/api/approvals", "carol@example.com",
		map[string]any{"token": tok})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, body %v", resp.StatusCode, body)
	}
	membership := body["membership"].(map[string]any)
	if membership["group"] != "prod.payments.db-admins" {
		t.Errorf("group = %v", membership["group"])
	}

	key, err := directory.LookupGroup(context.Background(), "jit.prod.payments.db-admins@example.com")
	if err != nil {
		t.Fatalf("group not provisioned: %v", err)
	}
	memberships, err := directory.ListMemberships(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(memberships) != 1 || memberships[0].MemberEmail != "bob@example.com" {
		t.Errorf("memberships = %+v", memberships)
	}
}

func TestApproveOwnProposalDenied(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := doRequest(t, srv, http.MethodPost,
		"/api/environments/prod/systems/payments/groups/db-admins/join", "bob@example.com",
		map[string]any{"inputs": map[string]string{"expiry": "120"}})
	tok := body["proposal"].(map[string]any)["token"].(string)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/approvals", "bob@example.com",
		map[string]any{"token": tok})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestApproveTamperedTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/approvals", "carol@example.com",
		map[string]any{"token": "not.a.token"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExportRequiresPermission(t *testing.T) {
	srv, _ := newTestServer(t)

	// alice has VIEW but not EXPORT.
	resp, _ := doRequest(t, srv, http.MethodGet, "/api/environments/prod/export", "alice@example.com", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestReconcileRequiresPermission(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/environments/prod/reconcile", "alice@example.com", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
