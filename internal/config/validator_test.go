package config

import (
	"strings"
	"testing"
)

func minimalValidConfig() Config {
	cfg := Config{
		Groups: GroupsConfig{
			Domain:   "example.com",
			Customer: "customers/C012345",
		},
		Policy: PolicyConfig{
			Dir: "/etc/groupgate/policies",
		},
		Proposal: ProposalConfig{
			KeyFile: "/etc/groupgate/proposal.key",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfig_Validate_MinimalValid(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestConfig_Validate_MissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing groups domain",
			mutate:  func(c *Config) { c.Groups.Domain = "" },
			wantMsg: "Config.Groups.Domain is required",
		},
		{
			name:    "missing groups customer",
			mutate:  func(c *Config) { c.Groups.Customer = "" },
			wantMsg: "Config.Groups.Customer is required",
		},
		{
			name:    "missing policy dir",
			mutate:  func(c *Config) { c.Policy.Dir = "" },
			wantMsg: "Config.Policy.Dir is required",
		},
		{
			name:    "missing proposal key file",
			mutate:  func(c *Config) { c.Proposal.KeyFile = "" },
			wantMsg: "Config.Proposal.KeyFile is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestConfig_Validate_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "bad cache ttl",
			mutate:  func(c *Config) { c.Policy.CacheTTL = "nope" },
			wantMsg: "positive duration",
		},
		{
			name:    "negative proposal validity",
			mutate:  func(c *Config) { c.Proposal.Validity = "-1h" },
			wantMsg: "positive duration",
		},
		{
			name:    "bad http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "not an address" },
			wantMsg: "valid host:port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantMsg: "must be one of",
		},
		{
			name:    "customer without prefix",
			mutate:  func(c *Config) { c.Groups.Customer = "C012345" },
			wantMsg: `must start with "customers/"`,
		},
		{
			name:    "domain not fqdn",
			mutate:  func(c *Config) { c.Groups.Domain = "not a domain" },
			wantMsg: "valid domain name",
		},
		{
			name:    "parallelism too high",
			mutate:  func(c *Config) { c.Provision.Parallelism = 500 },
			wantMsg: "must be at most 64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}
