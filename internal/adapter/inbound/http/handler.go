package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/groupgate/groupgate/internal/domain/analysis"
	"github.com/groupgate/groupgate/internal/domain/catalog"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/domain/provision"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Handler serves the broker's JSON API. All routes require an authenticated
// subject in the request context (see SubjectMiddleware).
type Handler struct {
	catalog     *catalog.Catalog
	signer      outbound.ProposalSigner
	proposalTTL time.Duration
	metrics     *Metrics
	logger      *slog.Logger
}

// NewHandler creates the API handler. proposalTTL bounds how long a signed
// proposal token stays actionable.
func NewHandler(cat *catalog.Catalog, signer outbound.ProposalSigner, proposalTTL time.Duration, metrics *Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:     cat,
		signer:      signer,
		proposalTTL: proposalTTL,
		metrics:     metrics,
		logger:      logger,
	}
}

// Routes returns the API route multiplexer.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/environments", h.listEnvironments)
	mux.HandleFunc("GET /api/environments/{environment}", h.getEnvironment)
	mux.HandleFunc("GET /api/environments/{environment}/export", h.exportEnvironment)
	mux.HandleFunc("POST /api/environments/{environment}/reconcile", h.reconcileEnvironment)
	mux.HandleFunc("GET /api/environments/{environment}/systems/{system}", h.getSystem)
	mux.HandleFunc("GET /api/environments/{environment}/systems/{system}/groups/{group}", h.getGroup)
	mux.HandleFunc("POST /api/environments/{environment}/systems/{system}/groups/{group}/join", h.join)
	mux.HandleFunc("POST /api/approvals", h.approve)
	return mux
}

// environmentSummary is the listing entry for one environment.
type environmentSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) listEnvironments(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.catalog.Environments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]environmentSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, environmentSummary{Name: s.Name, Description: s.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": out})
}

// groupSummary is the listing entry for one JIT group.
type groupSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	CloudGroupEmail  string `json:"cloudGroupEmail"`
	RequiresApproval bool   `json:"requiresApproval"`
}

// systemView is one system with its viewable groups.
type systemView struct {
	Name   string         `json:"name"`
	Groups []groupSummary `json:"groups"`
}

func (h *Handler) getEnvironment(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errdefs.ErrAccessDenied)
		return
	}
	env, err := h.catalog.Environment(r.Context(), subject, r.PathValue("environment"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	systems := make([]systemView, 0)
	for _, s := range env.Systems() {
		systems = append(systems, h.systemView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         env.Policy().Name(),
		"description":  env.Policy().Description(),
		"canExport":    env.CanExport(),
		"canReconcile": env.CanReconcile(),
		"systems":      systems,
	})
}

func (h *Handler) systemView(s *catalog.SystemContext) systemView {
	view := systemView{Name: s.Policy().Name(), Groups: make([]groupSummary, 0)}
	for _, g := range s.Groups() {
		view.Groups = append(view.Groups, groupSummary{
			ID:               g.Policy().ID().String(),
			Name:             g.Policy().Name(),
			Description:      g.Policy().Description(),
			CloudGroupEmail:  g.CloudGroupEmail(),
			RequiresApproval: g.Join().RequiresApproval(),
		})
	}
	return view
}

func (h *Handler) exportEnvironment(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errdefs.ErrAccessDenied)
		return
	}
	env, err := h.catalog.Environment(r.Context(), subject, r.PathValue("environment"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := env.Export()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// complianceRecordView is the JSON form of one reconciliation record.
type complianceRecordView struct {
	Group      string `json:"group"`
	CloudEmail string `json:"cloudEmail"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

func (h *Handler) reconcileEnvironment(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errdefs.ErrAccessDenied)
		return
	}
	env, err := h.catalog.Environment(r.Context(), subject, r.PathValue("environment"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := env.Reconcile(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportView(report))
}

func reportView(report *provision.Report) map[string]any {
	records := make([]complianceRecordView, 0, len(report.Records))
	for _, rec := range report.Records {
		view := complianceRecordView{
			Group:      rec.GroupID.String(),
			CloudEmail: rec.CloudEmail,
			State:      string(rec.State),
		}
		if rec.Err != nil {
			view.Error = rec.Err.Error()
		}
		records = append(records, view)
	}
	incompatibilities := make([]map[string]string, 0, len(report.Incompatibilities))
	for _, inc := range report.Incompatibilities {
		incompatibilities = append(incompatibilities, map[string]string{
			"resource": inc.Resource,
			"detail":   inc.Detail,
		})
	}
	return map[string]any{
		"environment":       report.Environment,
		"records":           records,
		"incompatibilities": incompatibilities,
	}
}

func (h *Handler) getSystem(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errdefs.ErrAccessDenied)
		return
	}
	env, err := h.catalog.Environment(r.Context(), subject, r.PathValue("environment"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	system, err := env.System(r.PathValue("system"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.systemView(system))
}

// inputView describes one input slot the caller must or may fill in.
type inputView struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupContext(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	provisioned, err := group.IsProvisioned(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	join := group.Join()
	inputs := make([]inputView, 0)
	for _, v := range join.Input() {
		inputs = append(inputs, inputView{Name: v.Name(), DisplayName: v.DisplayName()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               group.Policy().ID().String(),
		"name":             group.Policy().Name(),
		"description":      group.Policy().Description(),
		"cloudGroupEmail":  group.CloudGroupEmail(),
		"provisioned":      provisioned,
		"requiresApproval": join.RequiresApproval(),
		"inputs":           inputs,
	})
}

// joinRequest is the body of a join call. Inputs are raw string values keyed
// by variable name.
type joinRequest struct {
	Inputs map[string]string `json:"inputs"`
	DryRun bool              `json:"dryRun,omitempty"`
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupContext(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	op := group.Join()
	for name, value := range req.Inputs {
		if err := op.SetInput(name, value); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, resultView(op.DryRun(r.Context())))
		return
	}

	environment := op.Group().Environment
	if !op.RequiresApproval() {
		membership, err := op.Execute(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.metrics.JoinsTotal.WithLabelValues(environment, "self").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"membership": membershipView(membership),
		})
		return
	}

	proposal, err := op.Propose(r.Context(), time.Now().Add(h.proposalTTL))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.signer.Sign(r.Context(), proposal.Payload())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.JoinsTotal.WithLabelValues(environment, "proposal").Inc()

	recipients := make([]string, 0, len(proposal.Recipients))
	for _, rec := range proposal.Recipients {
		recipients = append(recipients, rec.String())
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"proposal": map[string]any{
			"token":      token,
			"group":      proposal.Group.String(),
			"recipients": recipients,
			"expiry":     proposal.Expiry.UTC().Format(time.RFC3339),
		},
	})
}

// approveRequest is the body of an approval call. The token is the signed
// proposal handed out by a prior join.
type approveRequest struct {
	Token  string            `json:"token"`
	Inputs map[string]string `json:"inputs"`
	DryRun bool              `json:"dryRun,omitempty"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	approver, ok := SubjectFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errdefs.ErrAccessDenied)
		return
	}

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	payload, err := h.signer.Verify(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proposal, err := catalog.ProposalFromPayload(payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	environment := proposal.Group.Environment
	op, err := h.catalog.Approve(r.Context(), approver, proposal)
	if err != nil {
		h.countApproval(environment, err)
		h.writeError(w, r, err)
		return
	}
	for name, value := range req.Inputs {
		if err := op.SetInput(name, value); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, resultView(op.DryRun(r.Context())))
		return
	}

	membership, err := op.Execute(r.Context())
	if err != nil {
		h.countApproval(environment, err)
		h.writeError(w, r, err)
		return
	}
	h.countApproval(environment, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"membership": membershipView(membership),
	})
}

func (h *Handler) countApproval(environment string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errdefs.ErrAccessDenied):
		result = "denied"
	default:
		result = "invalid"
	}
	h.metrics.ApprovalsTotal.WithLabelValues(environment, result).Inc()
}

// groupContext resolves the group named by the request path for the
// authenticated subject.
func (h *Handler) groupContext(r *http.Request) (*catalog.GroupContext, error) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		return nil, errdefs.ErrAccessDenied
	}
	env, err := h.catalog.Environment(r.Context(), subject, r.PathValue("environment"))
	if err != nil {
		return nil, err
	}
	system, err := env.System(r.PathValue("system"))
	if err != nil {
		return nil, err
	}
	return system.Group(r.PathValue("group"))
}

func membershipView(m *provision.ProvisionedMembership) map[string]any {
	return map[string]any{
		"group":  m.Group.String(),
		"expiry": m.Expiry.UTC().Format(time.RFC3339),
	}
}

// resultView serializes an analysis result for dry runs.
func resultView(result *analysis.Result) map[string]any {
	names := func(constraints []policy.Constraint) []string {
		out := make([]string, 0, len(constraints))
		for _, c := range constraints {
			out = append(out, c.DisplayName())
		}
		return out
	}
	failed := make([]map[string]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, map[string]string{
			"constraint": f.Constraint.DisplayName(),
			"error":      f.Err.Error(),
		})
	}
	return map[string]any{
		"accessAllowed": result.IsAccessAllowed(analysis.Default),
		"allowedByACL":  result.AllowedByACL,
		"satisfied":     names(result.Satisfied),
		"unsatisfied":   names(result.Unsatisfied),
		"failed":        failed,
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errdefs.ErrInvalidArgument
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain error kinds to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errdefs.ErrResourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errdefs.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, errdefs.ErrInvalidProposal),
		errors.Is(err, errdefs.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, errdefs.ErrConstraintFailed),
		errors.Is(err, errdefs.ErrConstraintUnsatisfied):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errdefs.ErrIllegalState),
		errors.Is(err, errdefs.ErrNoApproversAvailable),
		errors.Is(err, errdefs.ErrMissingExpiryConstraint),
		errors.Is(err, errdefs.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, errdefs.ErrIO):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
