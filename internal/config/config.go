// Package config provides the configuration schema for GroupGate.
//
// Configuration is file-based YAML with environment variable overrides
// (GROUPGATE_ prefix). All durations are strings in Go duration syntax.
package config

// Config is the top-level configuration for the broker.
type Config struct {
	// Server configures the HTTP listener for health and metrics.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Groups configures the backing cloud identity directory.
	Groups GroupsConfig `yaml:"groups" mapstructure:"groups"`

	// Policy configures where environment policy documents come from.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Proposal configures the signed proposal tokens.
	Proposal ProposalConfig `yaml:"proposal" mapstructure:"proposal"`

	// Provision configures IAM provisioning behavior.
	Provision ProvisionConfig `yaml:"provision" mapstructure:"provision"`

	// Reconcile configures scheduled reconciliation.
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// GroupsConfig configures the cloud identity directory all JIT groups live in.
type GroupsConfig struct {
	// Domain is the primary domain of the organization. All managed group
	// addresses are created under it.
	Domain string `yaml:"domain" mapstructure:"domain" validate:"required,fqdn"`

	// Customer is the Cloud Identity customer resource
	// ("customers/C..." or "customers/my_customer").
	Customer string `yaml:"customer" mapstructure:"customer" validate:"required,startswith=customers/"`
}

// PolicyConfig configures the policy document source.
type PolicyConfig struct {
	// Dir is the directory containing one <environment>.yaml per environment.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`

	// CacheTTL is how long a parsed policy tree is served before the
	// document is re-read (e.g., "5m"). Defaults to "5m".
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"omitempty,duration"`
}

// ProposalConfig configures the signed tokens that carry pending joins to
// approvers.
type ProposalConfig struct {
	// KeyFile is the path of a file holding the token signing secret, at
	// least 32 bytes.
	KeyFile string `yaml:"key_file" mapstructure:"key_file" validate:"required"`

	// Validity is how long a proposal stays actionable (e.g., "1h").
	// Defaults to "1h".
	Validity string `yaml:"validity" mapstructure:"validity" validate:"omitempty,duration"`
}

// ProvisionConfig configures IAM provisioning.
type ProvisionConfig struct {
	// Parallelism bounds how many resources are updated concurrently when
	// reconciling one group's bindings. Defaults to 4.
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism" validate:"omitempty,min=1,max=64"`
}

// ReconcileConfig configures scheduled reconciliation.
type ReconcileConfig struct {
	// Enabled turns the background reconciliation loop on or off.
	// Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Interval is how often all environments are reconciled (e.g., "6h").
	// Defaults to "6h".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network exposure must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Policy.CacheTTL == "" {
		c.Policy.CacheTTL = "5m"
	}
	if c.Proposal.Validity == "" {
		c.Proposal.Validity = "1h"
	}
	if c.Provision.Parallelism == 0 {
		c.Provision.Parallelism = 4
	}
	if c.Reconcile.Interval == "" {
		c.Reconcile.Interval = "6h"
	}
}
