package policy

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/errdefs"
)

// documentSchemaVersion is the only schema version this build reads and
// writes.
const documentSchemaVersion = 1

// Document structs mirror the YAML policy document. They exist only for
// (de)serialization; the policy tree is the canonical in-memory form.

type documentRoot struct {
	SchemaVersion int                 `yaml:"schemaVersion"`
	Environment   documentEnvironment `yaml:"environment"`
}

type documentEnvironment struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	Access      []documentEntry      `yaml:"access,omitempty"`
	Constraints *documentConstraints `yaml:"constraints,omitempty"`
	Systems     []documentSystem     `yaml:"systems,omitempty"`
}

type documentSystem struct {
	Name        string               `yaml:"name"`
	Access      []documentEntry      `yaml:"access,omitempty"`
	Constraints *documentConstraints `yaml:"constraints,omitempty"`
	Groups      []documentGroup      `yaml:"groups,omitempty"`
}

type documentGroup struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	GKEEnabled  bool                 `yaml:"gkeEnabled,omitempty"`
	Access      []documentEntry      `yaml:"access,omitempty"`
	Constraints *documentConstraints `yaml:"constraints,omitempty"`
	Privileges  []documentPrivilege  `yaml:"privileges,omitempty"`
}

type documentEntry struct {
	Principal string `yaml:"principal"`
	Allow     string `yaml:"allow,omitempty"`
	Deny      string `yaml:"deny,omitempty"`
}

type documentConstraints struct {
	Join    []documentConstraint `yaml:"join,omitempty"`
	Approve []documentConstraint `yaml:"approve,omitempty"`
}

type documentConstraint struct {
	Type        string             `yaml:"type"`
	Name        string             `yaml:"name,omitempty"`
	DisplayName string             `yaml:"displayName,omitempty"`
	Expression  string             `yaml:"expression,omitempty"`
	Variables   []documentVariable `yaml:"variables,omitempty"`
	Min         string             `yaml:"min,omitempty"`
	Max         string             `yaml:"max,omitempty"`
}

type documentVariable struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName,omitempty"`
	MinLength   int    `yaml:"minLength,omitempty"`
	MaxLength   int    `yaml:"maxLength,omitempty"`
	Min         int64  `yaml:"min,omitempty"`
	Max         int64  `yaml:"max,omitempty"`
}

type documentPrivilege struct {
	Type        string         `yaml:"type"`
	Resource    string         `yaml:"resource,omitempty"`
	Role        string         `yaml:"role,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Condition   string         `yaml:"condition,omitempty"`
	Spec        map[string]any `yaml:"spec,omitempty"`
}

// ParseDocument parses a YAML policy document into a policy tree. metadata
// records where the document came from.
func ParseDocument(data []byte, metadata Metadata) (*EnvironmentPolicy, error) {
	var doc documentRoot
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed policy document: %v", errdefs.ErrInvalidArgument, err)
	}
	if doc.SchemaVersion != documentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", errdefs.ErrInvalidArgument, doc.SchemaVersion)
	}

	acl, err := parseEntries(doc.Environment.Access)
	if err != nil {
		return nil, err
	}
	constraints, err := parseConstraints(doc.Environment.Constraints)
	if err != nil {
		return nil, err
	}
	env, err := NewEnvironmentPolicy(doc.Environment.Name, doc.Environment.Description, metadata, acl, constraints)
	if err != nil {
		return nil, err
	}

	for _, ds := range doc.Environment.Systems {
		sysACL, err := parseEntries(ds.Access)
		if err != nil {
			return nil, fmt.Errorf("system %q: %w", ds.Name, err)
		}
		sysConstraints, err := parseConstraints(ds.Constraints)
		if err != nil {
			return nil, fmt.Errorf("system %q: %w", ds.Name, err)
		}
		system, err := env.AddSystem(ds.Name, sysACL, sysConstraints)
		if err != nil {
			return nil, err
		}

		for _, dg := range ds.Groups {
			groupACL, err := parseEntries(dg.Access)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", dg.Name, err)
			}
			groupConstraints, err := parseConstraints(dg.Constraints)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", dg.Name, err)
			}
			privileges, err := parsePrivileges(dg.Privileges)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", dg.Name, err)
			}
			if _, err := system.AddGroup(GroupSpec{
				Name:        dg.Name,
				Description: dg.Description,
				ACL:         groupACL,
				Constraints: groupConstraints,
				Privileges:  privileges,
				GKEEnabled:  dg.GKEEnabled,
			}); err != nil {
				return nil, err
			}
		}
	}
	return env, nil
}

// MarshalDocument serializes a policy tree back into its YAML document form.
// ParseDocument(MarshalDocument(p)) yields an equivalent tree.
func MarshalDocument(env *EnvironmentPolicy) ([]byte, error) {
	doc := documentRoot{
		SchemaVersion: documentSchemaVersion,
		Environment: documentEnvironment{
			Name:        env.Name(),
			Description: env.Description(),
			Access:      marshalEntries(env.ACL()),
			Constraints: marshalConstraints(env.constraints),
		},
	}
	for _, s := range env.Systems() {
		ds := documentSystem{
			Name:        s.Name(),
			Access:      marshalEntries(s.ACL()),
			Constraints: marshalConstraints(s.constraints),
		}
		for _, g := range s.Groups() {
			ds.Groups = append(ds.Groups, documentGroup{
				Name:        g.Name(),
				Description: g.Description(),
				GKEEnabled:  g.IsGKEEnabled(),
				Access:      marshalEntries(g.ACL()),
				Constraints: marshalConstraints(g.constraints),
				Privileges:  marshalPrivileges(g.Privileges()),
			})
		}
		doc.Environment.Systems = append(doc.Environment.Systems, ds)
	}
	return yaml.Marshal(&doc)
}

func parseEntries(entries []documentEntry) (access.ACL, error) {
	var acl access.ACL
	for _, e := range entries {
		principal, err := access.ParsePrincipal(e.Principal)
		if err != nil {
			return access.ACL{}, err
		}
		switch {
		case e.Allow != "" && e.Deny != "":
			return access.ACL{}, fmt.Errorf("%w: entry for %q has both allow and deny", errdefs.ErrInvalidArgument, e.Principal)
		case e.Allow != "":
			mask, ok := access.ParseMask(e.Allow)
			if !ok {
				return access.ACL{}, fmt.Errorf("%w: invalid mask %q", errdefs.ErrInvalidArgument, e.Allow)
			}
			acl.Entries = append(acl.Entries, access.AllowEntry(principal, mask))
		case e.Deny != "":
			mask, ok := access.ParseMask(e.Deny)
			if !ok {
				return access.ACL{}, fmt.Errorf("%w: invalid mask %q", errdefs.ErrInvalidArgument, e.Deny)
			}
			acl.Entries = append(acl.Entries, access.DenyEntry(principal, mask))
		default:
			return access.ACL{}, fmt.Errorf("%w: entry for %q has neither allow nor deny", errdefs.ErrInvalidArgument, e.Principal)
		}
	}
	return acl, nil
}

func marshalEntries(acl access.ACL) []documentEntry {
	var out []documentEntry
	for _, e := range acl.Entries {
		entry := documentEntry{Principal: e.Principal.String()}
		if e.Kind == access.Allow {
			entry.Allow = e.Mask.String()
		} else {
			entry.Deny = e.Mask.String()
		}
		out = append(out, entry)
	}
	return out
}

func parseConstraints(doc *documentConstraints) (map[Class][]Constraint, error) {
	out := make(map[Class][]Constraint)
	if doc == nil {
		return out, nil
	}
	for class, list := range map[Class][]documentConstraint{
		ClassJoin:    doc.Join,
		ClassApprove: doc.Approve,
	} {
		for _, dc := range list {
			c, err := parseConstraint(dc)
			if err != nil {
				return nil, err
			}
			out[class] = append(out[class], c)
		}
	}
	return out, nil
}

func parseConstraint(dc documentConstraint) (Constraint, error) {
	switch dc.Type {
	case "expiry":
		min, err := time.ParseDuration(dc.Min)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expiry min %q", errdefs.ErrInvalidArgument, dc.Min)
		}
		max := min
		if dc.Max != "" {
			if max, err = time.ParseDuration(dc.Max); err != nil {
				return nil, fmt.Errorf("%w: invalid expiry max %q", errdefs.ErrInvalidArgument, dc.Max)
			}
		}
		if min <= 0 || max < min {
			return nil, fmt.Errorf("%w: expiry range [%s, %s] is invalid", errdefs.ErrInvalidArgument, min, max)
		}
		return &ExpiryConstraint{Min: min, Max: max}, nil
	case "expression":
		if dc.Name == "" || dc.Expression == "" {
			return nil, fmt.Errorf("%w: expression constraint needs a name and an expression", errdefs.ErrInvalidArgument)
		}
		vars := make([]Variable, 0, len(dc.Variables))
		for _, dv := range dc.Variables {
			v, err := parseVariable(dv)
			if err != nil {
				return nil, err
			}
			vars = append(vars, v)
		}
		return &PredicateConstraint{
			ConstraintName: dc.Name,
			Display:        dc.DisplayName,
			Expression:     dc.Expression,
			Inputs:         vars,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown constraint type %q", errdefs.ErrInvalidArgument, dc.Type)
	}
}

func parseVariable(dv documentVariable) (Variable, error) {
	switch dv.Type {
	case "bool":
		return &BoolVariable{VarName: dv.Name, VarDisplay: dv.DisplayName}, nil
	case "string":
		return &StringVariable{
			VarName:    dv.Name,
			VarDisplay: dv.DisplayName,
			MinLength:  dv.MinLength,
			MaxLength:  dv.MaxLength,
		}, nil
	case "long":
		return &LongVariable{
			VarName:    dv.Name,
			VarDisplay: dv.DisplayName,
			Min:        dv.Min,
			Max:        dv.Max,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown variable type %q", errdefs.ErrInvalidArgument, dv.Type)
	}
}

func marshalConstraints(constraints map[Class][]Constraint) *documentConstraints {
	if len(constraints) == 0 {
		return nil
	}
	doc := &documentConstraints{
		Join:    marshalConstraintList(constraints[ClassJoin]),
		Approve: marshalConstraintList(constraints[ClassApprove]),
	}
	if doc.Join == nil && doc.Approve == nil {
		return nil
	}
	return doc
}

func marshalConstraintList(constraints []Constraint) []documentConstraint {
	var out []documentConstraint
	for _, c := range constraints {
		switch c := c.(type) {
		case *ExpiryConstraint:
			dc := documentConstraint{Type: "expiry", Min: c.Min.String()}
			if !c.IsFixed() {
				dc.Max = c.Max.String()
			}
			out = append(out, dc)
		case *PredicateConstraint:
			dc := documentConstraint{
				Type:        "expression",
				Name:        c.ConstraintName,
				DisplayName: c.Display,
				Expression:  c.Expression,
			}
			for _, v := range c.Inputs {
				dc.Variables = append(dc.Variables, marshalVariable(v))
			}
			out = append(out, dc)
		}
	}
	return out
}

func marshalVariable(v Variable) documentVariable {
	switch v := v.(type) {
	case *BoolVariable:
		return documentVariable{Type: "bool", Name: v.VarName, DisplayName: v.VarDisplay}
	case *StringVariable:
		return documentVariable{
			Type:        "string",
			Name:        v.VarName,
			DisplayName: v.VarDisplay,
			MinLength:   v.MinLength,
			MaxLength:   v.MaxLength,
		}
	case *LongVariable:
		return documentVariable{
			Type:        "long",
			Name:        v.VarName,
			DisplayName: v.VarDisplay,
			Min:         v.Min,
			Max:         v.Max,
		}
	default:
		return documentVariable{}
	}
}

func parsePrivileges(docs []documentPrivilege) ([]Privilege, error) {
	var out []Privilege
	for _, dp := range docs {
		switch dp.Type {
		case "iamRoleBinding":
			resource, err := ParseResourceID(dp.Resource)
			if err != nil {
				return nil, err
			}
			if dp.Role == "" {
				return nil, fmt.Errorf("%w: iamRoleBinding needs a role", errdefs.ErrInvalidArgument)
			}
			out = append(out, IAMRoleBinding{
				Resource:    resource,
				Role:        dp.Role,
				Description: dp.Description,
				Condition:   dp.Condition,
			})
		default:
			// Unknown privilege variants are allowed; keep them verbatim.
			out = append(out, OpaquePrivilege{Type: dp.Type, Spec: dp.Spec})
		}
	}
	return out, nil
}

func marshalPrivileges(privileges []Privilege) []documentPrivilege {
	var out []documentPrivilege
	for _, p := range privileges {
		switch p := p.(type) {
		case IAMRoleBinding:
			out = append(out, documentPrivilege{
				Type:        "iamRoleBinding",
				Resource:    p.Resource.String(),
				Role:        p.Role,
				Description: p.Description,
				Condition:   p.Condition,
			})
		case OpaquePrivilege:
			out = append(out, documentPrivilege{Type: p.Type, Spec: p.Spec})
		}
	}
	return out
}
