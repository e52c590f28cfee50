// Package analysis combines ACL checks with constraint evaluation for one
// subject against one JIT group. It is the single gate every join and
// approval operation runs through.
package analysis

import (
	"context"
	"fmt"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/errdefs"
)

// Options selects how a Result is interpreted.
type Options int

const (
	// Default requires the ACL to allow and every constraint to be satisfied.
	Default Options = iota
	// IgnoreConstraints requires only the ACL to allow.
	IgnoreConstraints
)

// Analysis is a builder for one combined ACL + constraint evaluation.
// Inputs are mutable during preparation and must not be shared across
// goroutines.
type Analysis struct {
	subject  *access.Subject
	group    *policy.GroupPolicy
	required access.Mask
	eval     policy.ExpressionEvaluator
	checks   []*policy.Check
	applied  map[string]bool
}

// New creates an analysis of subject against group for required permissions.
func New(subject *access.Subject, group *policy.GroupPolicy, required access.Mask, eval policy.ExpressionEvaluator) *Analysis {
	return &Analysis{
		subject:  subject,
		group:    group,
		required: required,
		eval:     eval,
		applied:  make(map[string]bool),
	}
}

// ApplyConstraints adds all effective constraints of class, in declaration
// order. Applying JOIN and APPROVE together keeps one check per constraint
// name; the first applied class wins.
func (a *Analysis) ApplyConstraints(class policy.Class) *Analysis {
	for _, c := range a.group.EffectiveConstraints(class) {
		if a.applied[c.Name()] {
			continue
		}
		a.applied[c.Name()] = true
		a.checks = append(a.checks, c.NewCheck(a.eval))
	}
	return a
}

// Input returns the union of the input variables across all applied
// constraints, one entry per name, so callers can present them to the user.
func (a *Analysis) Input() []policy.Variable {
	var out []policy.Variable
	seen := make(map[string]bool)
	for _, check := range a.checks {
		for _, v := range check.Variables() {
			if !seen[v.Name()] {
				seen[v.Name()] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// SetInput parses value into every applied variable named name. Unknown
// names are an InvalidArgument error, as are out-of-range values.
func (a *Analysis) SetInput(name, value string) error {
	found := false
	for _, check := range a.checks {
		if v, ok := check.Variable(name); ok {
			if err := v.Set(value); err != nil {
				return err
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: no input named %q", errdefs.ErrInvalidArgument, name)
	}
	return nil
}

// Check returns the check for the constraint named name.
func (a *Analysis) Check(name string) (*policy.Check, bool) {
	for _, check := range a.checks {
		if check.Constraint().Name() == name {
			return check, true
		}
	}
	return nil, false
}

// Execute evaluates the ACL and every applied constraint in declaration
// order. The result lists all satisfied, unsatisfied, and failed
// constraints; evaluation does not stop at the first failure.
func (a *Analysis) Execute(ctx context.Context) *Result {
	result := &Result{
		AllowedByACL: a.group.EffectiveACL().IsAllowed(a.subject, a.required),
	}
	facts := policy.Facts{Subject: a.subject, Group: a.group.ID()}
	for _, check := range a.checks {
		ok, err := check.Evaluate(ctx, facts)
		switch {
		case err != nil:
			// A raised constraint is both failed and unsatisfied.
			result.Failed = append(result.Failed, ConstraintFailure{
				Constraint: check.Constraint(),
				Err:        err,
			})
			result.Unsatisfied = append(result.Unsatisfied, check.Constraint())
		case ok:
			result.Satisfied = append(result.Satisfied, check.Constraint())
		default:
			result.Unsatisfied = append(result.Unsatisfied, check.Constraint())
		}
	}
	return result
}

// ConstraintFailure pairs a constraint with the error its evaluation raised.
type ConstraintFailure struct {
	Constraint policy.Constraint
	Err        error
}

// Result is the outcome of one analysis execution.
type Result struct {
	AllowedByACL bool
	Satisfied    []policy.Constraint
	Unsatisfied  []policy.Constraint
	Failed       []ConstraintFailure
}

// IsAccessAllowed interprets the result under opts.
func (r *Result) IsAccessAllowed(opts Options) bool {
	if opts == IgnoreConstraints {
		return r.AllowedByACL
	}
	return r.AllowedByACL && len(r.Failed) == 0 && len(r.Unsatisfied) == 0
}

// VerifyAccessAllowed returns nil when access is allowed under opts, and
// otherwise the first applicable of AccessDenied, ConstraintFailed,
// ConstraintUnsatisfied.
func (r *Result) VerifyAccessAllowed(opts Options) error {
	if !r.AllowedByACL {
		return &errdefs.AccessDeniedError{Reason: "not allowed by access control list"}
	}
	if opts == IgnoreConstraints {
		return nil
	}
	if len(r.Failed) > 0 {
		first := r.Failed[0]
		return fmt.Errorf("%w: %q: %v", errdefs.ErrConstraintFailed, first.Constraint.DisplayName(), first.Err)
	}
	if len(r.Unsatisfied) > 0 {
		return fmt.Errorf("%w: %q", errdefs.ErrConstraintUnsatisfied, r.Unsatisfied[0].DisplayName())
	}
	return nil
}
