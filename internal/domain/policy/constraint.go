package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/errdefs"
)

// Class partitions constraints by the stage at which they are enforced.
type Class string

const (
	// ClassJoin constraints are enforced at join time.
	ClassJoin Class = "join"
	// ClassApprove constraints are enforced at approval time, and at join
	// time when the subject self-approves.
	ClassApprove Class = "approve"
)

// ExpiryInputName is the reserved input name through which a joining user
// supplies the membership duration, in minutes, for ranged expiry constraints.
const ExpiryInputName = "expiry"

// ExpressionEvaluator evaluates a boolean expression against an activation
// of named values. The CEL adapter is the production implementation.
type ExpressionEvaluator interface {
	Evaluate(ctx context.Context, expression string, activation map[string]any) (bool, error)
}

// Facts are the contextual values available to every constraint expression
// in addition to the user-supplied inputs.
type Facts struct {
	Subject *access.Subject
	Group   GroupID
}

// activation builds the expression activation: subject and group facts plus
// the current variable values under "input".
func (f Facts) activation(vars []Variable) map[string]any {
	principals := make([]string, 0)
	var email string
	if f.Subject != nil {
		email = f.Subject.User().Email
		for _, p := range f.Subject.Principals() {
			principals = append(principals, p.String())
		}
	}
	input := make(map[string]any, len(vars))
	for _, v := range vars {
		input[v.Name()] = v.Value()
	}
	return map[string]any{
		"subject": map[string]any{
			"email":      email,
			"principals": principals,
		},
		"group": map[string]any{
			"id":          f.Group.String(),
			"environment": f.Group.Environment,
			"system":      f.Group.System,
			"name":        f.Group.Name,
		},
		"input": input,
	}
}

// Constraint is a policy rule attached to a node of the policy tree.
// Constraints are stateless; NewCheck produces a single-shot Check with its
// own copies of the input variables.
type Constraint interface {
	Name() string
	DisplayName() string
	// Variables returns the input declarations. The returned variables are
	// templates; checks get clones.
	Variables() []Variable
	// NewCheck creates a single-shot check bound to eval.
	NewCheck(eval ExpressionEvaluator) *Check
}

// Check is one evaluation of a constraint with mutable input variables.
// Checks must not be shared across goroutines.
type Check struct {
	constraint Constraint
	vars       []Variable
	run        func(ctx context.Context, facts Facts, vars []Variable) (bool, error)
}

// Constraint returns the constraint this check evaluates.
func (c *Check) Constraint() Constraint { return c.constraint }

// Variables returns the check's own input variable instances.
func (c *Check) Variables() []Variable { return c.vars }

// Variable returns the input variable named name.
func (c *Check) Variable(name string) (Variable, bool) {
	for _, v := range c.vars {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}

// Evaluate runs the check. A false result means the constraint is
// unsatisfied; an error means evaluation itself failed.
func (c *Check) Evaluate(ctx context.Context, facts Facts) (bool, error) {
	return c.run(ctx, facts, c.vars)
}

func cloneVariables(vars []Variable) []Variable {
	out := make([]Variable, len(vars))
	for i, v := range vars {
		out[i] = v.Clone()
	}
	return out
}

// PredicateConstraint is a boolean expression over typed inputs and
// contextual facts.
type PredicateConstraint struct {
	ConstraintName string
	Display        string
	Expression     string
	Inputs         []Variable
}

// Name implements Constraint.
func (p *PredicateConstraint) Name() string { return p.ConstraintName }

// DisplayName implements Constraint.
func (p *PredicateConstraint) DisplayName() string {
	if p.Display != "" {
		return p.Display
	}
	return p.ConstraintName
}

// Variables implements Constraint.
func (p *PredicateConstraint) Variables() []Variable { return p.Inputs }

// NewCheck implements Constraint.
func (p *PredicateConstraint) NewCheck(eval ExpressionEvaluator) *Check {
	return &Check{
		constraint: p,
		vars:       cloneVariables(p.Inputs),
		run: func(ctx context.Context, facts Facts, vars []Variable) (bool, error) {
			ok, err := eval.Evaluate(ctx, p.Expression, facts.activation(vars))
			if err != nil {
				return false, fmt.Errorf("constraint %q: %w", p.ConstraintName, err)
			}
			return ok, nil
		},
	}
}

// ExpiryConstraint bounds the lifetime of a provisioned membership. When Min
// equals Max the duration is fixed; otherwise the joining user supplies the
// duration in minutes through the "expiry" input.
type ExpiryConstraint struct {
	Min time.Duration
	Max time.Duration
}

// Name implements Constraint.
func (e *ExpiryConstraint) Name() string { return ExpiryInputName }

// DisplayName implements Constraint.
func (e *ExpiryConstraint) DisplayName() string { return "Membership expiry" }

// IsFixed reports whether the duration is fixed rather than user-supplied.
func (e *ExpiryConstraint) IsFixed() bool { return e.Min == e.Max }

// Variables implements Constraint.
func (e *ExpiryConstraint) Variables() []Variable {
	if e.IsFixed() {
		return nil
	}
	return []Variable{&LongVariable{
		VarName:    ExpiryInputName,
		VarDisplay: "Expiry in minutes",
		Min:        int64(e.Min / time.Minute),
		Max:        int64(e.Max / time.Minute),
	}}
}

// NewCheck implements Constraint. The check is satisfied when a valid
// duration can be extracted from the inputs.
func (e *ExpiryConstraint) NewCheck(eval ExpressionEvaluator) *Check {
	return &Check{
		constraint: e,
		vars:       cloneVariables(e.Variables()),
		run: func(_ context.Context, _ Facts, vars []Variable) (bool, error) {
			_, err := e.extract(vars)
			return err == nil, nil
		},
	}
}

// ExtractExpiry returns the membership duration selected through the check's
// inputs. For ranged constraints an unset or out-of-range input is an
// InvalidArgument error.
func (e *ExpiryConstraint) ExtractExpiry(c *Check) (time.Duration, error) {
	return e.extract(c.vars)
}

func (e *ExpiryConstraint) extract(vars []Variable) (time.Duration, error) {
	if e.IsFixed() {
		if e.Min <= 0 {
			return 0, fmt.Errorf("%w: expiry duration must be positive", errdefs.ErrInvalidArgument)
		}
		return e.Min, nil
	}
	for _, v := range vars {
		if v.Name() != ExpiryInputName {
			continue
		}
		if !v.IsSet() {
			return 0, fmt.Errorf("%w: no expiry provided", errdefs.ErrInvalidArgument)
		}
		minutes, _ := v.Value().(int64)
		d := time.Duration(minutes) * time.Minute
		if d < e.Min || d > e.Max {
			return 0, fmt.Errorf("%w: expiry must be between %s and %s", errdefs.ErrInvalidArgument, e.Min, e.Max)
		}
		return d, nil
	}
	return 0, fmt.Errorf("%w: no expiry provided", errdefs.ErrInvalidArgument)
}

// FirstExpiryConstraint returns the first expiry constraint in constraints,
// in declaration order.
func FirstExpiryConstraint(constraints []Constraint) (*ExpiryConstraint, bool) {
	for _, c := range constraints {
		if e, ok := c.(*ExpiryConstraint); ok {
			return e, true
		}
	}
	return nil, false
}
