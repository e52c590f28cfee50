package policy

import (
	"fmt"
	"strconv"

	"github.com/groupgate/groupgate/internal/errdefs"
)

// Variable is one typed, named input slot of a constraint check. Variables
// are declared on a constraint and cloned into each check; Set parses a
// string value and validates bounds. An unset variable behaves as if it held
// its declared default (bool=false, string="", long=0).
type Variable interface {
	// Name is the binding name used in expressions and proposal input maps.
	Name() string
	// DisplayName is shown to the user asking for the input.
	DisplayName() string
	// Set parses raw and validates it against the variable's bounds.
	Set(raw string) error
	// IsSet reports whether Set succeeded at least once.
	IsSet() bool
	// Value returns the parsed value, or the type default when unset.
	Value() any
	// Raw returns the last successfully set raw string, or "" when unset.
	Raw() string
	// Clone returns an unset copy of the declaration.
	Clone() Variable
}

// BoolVariable is a boolean input.
type BoolVariable struct {
	VarName    string
	VarDisplay string

	value bool
	set   bool
	raw   string
}

// Name implements Variable.
func (v *BoolVariable) Name() string { return v.VarName }

// DisplayName implements Variable.
func (v *BoolVariable) DisplayName() string { return v.VarDisplay }

// Set implements Variable.
func (v *BoolVariable) Set(raw string) error {
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("%w: %s must be a boolean, got %q", errdefs.ErrInvalidArgument, v.VarName, raw)
	}
	v.value, v.set, v.raw = parsed, true, raw
	return nil
}

// IsSet implements Variable.
func (v *BoolVariable) IsSet() bool { return v.set }

// Value implements Variable.
func (v *BoolVariable) Value() any { return v.value }

// Raw implements Variable.
func (v *BoolVariable) Raw() string { return v.raw }

// Clone implements Variable.
func (v *BoolVariable) Clone() Variable {
	return &BoolVariable{VarName: v.VarName, VarDisplay: v.VarDisplay}
}

// StringVariable is a string input with length bounds.
type StringVariable struct {
	VarName    string
	VarDisplay string
	MinLength  int
	MaxLength  int

	value string
	set   bool
}

// Name implements Variable.
func (v *StringVariable) Name() string { return v.VarName }

// DisplayName implements Variable.
func (v *StringVariable) DisplayName() string { return v.VarDisplay }

// Set implements Variable.
func (v *StringVariable) Set(raw string) error {
	if len(raw) < v.MinLength || (v.MaxLength > 0 && len(raw) > v.MaxLength) {
		return fmt.Errorf("%w: %s must be between %d and %d characters",
			errdefs.ErrInvalidArgument, v.VarName, v.MinLength, v.MaxLength)
	}
	v.value, v.set = raw, true
	return nil
}

// IsSet implements Variable.
func (v *StringVariable) IsSet() bool { return v.set }

// Value implements Variable.
func (v *StringVariable) Value() any { return v.value }

// Raw implements Variable.
func (v *StringVariable) Raw() string { return v.value }

// Clone implements Variable.
func (v *StringVariable) Clone() Variable {
	return &StringVariable{
		VarName:    v.VarName,
		VarDisplay: v.VarDisplay,
		MinLength:  v.MinLength,
		MaxLength:  v.MaxLength,
	}
}

// LongVariable is an integer input with an inclusive range.
type LongVariable struct {
	VarName    string
	VarDisplay string
	Min        int64
	Max        int64

	value int64
	set   bool
	raw   string
}

// Name implements Variable.
func (v *LongVariable) Name() string { return v.VarName }

// DisplayName implements Variable.
func (v *LongVariable) DisplayName() string { return v.VarDisplay }

// Set implements Variable.
func (v *LongVariable) Set(raw string) error {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer, got %q", errdefs.ErrInvalidArgument, v.VarName, raw)
	}
	if parsed < v.Min || parsed > v.Max {
		return fmt.Errorf("%w: %s must be between %d and %d",
			errdefs.ErrInvalidArgument, v.VarName, v.Min, v.Max)
	}
	v.value, v.set, v.raw = parsed, true, raw
	return nil
}

// IsSet implements Variable.
func (v *LongVariable) IsSet() bool { return v.set }

// Value implements Variable.
func (v *LongVariable) Value() any { return v.value }

// Raw implements Variable.
func (v *LongVariable) Raw() string { return v.raw }

// Clone implements Variable.
func (v *LongVariable) Clone() Variable {
	return &LongVariable{
		VarName:    v.VarName,
		VarDisplay: v.VarDisplay,
		Min:        v.Min,
		Max:        v.Max,
	}
}
