package provision

import (
	"testing"

	"github.com/groupgate/groupgate/internal/domain/policy"
)

func testBindings() []policy.IAMRoleBinding {
	return []policy.IAMRoleBinding{
		{
			Resource: policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"},
			Role:     "roles/compute.viewer",
		},
		{
			Resource:  policy.ResourceID{Kind: policy.KindProject, ID: "proj-1"},
			Role:      "roles/compute.admin",
			Condition: "resource.name.startsWith('projects/proj-1/zones/us-')",
		},
		{
			Resource: policy.ResourceID{Kind: policy.KindFolder, ID: "1234"},
			Role:     "roles/viewer",
		},
	}
}

func TestChecksumBindingsOrderIndependent(t *testing.T) {
	bindings := testBindings()
	shuffled := []policy.IAMRoleBinding{bindings[2], bindings[0], bindings[1]}

	if ChecksumBindings(bindings) != ChecksumBindings(shuffled) {
		t.Error("checksum depends on declaration order")
	}
}

func TestChecksumBindingsSensitivity(t *testing.T) {
	base := ChecksumBindings(testBindings())

	mutations := map[string]func([]policy.IAMRoleBinding) []policy.IAMRoleBinding{
		"role changed": func(b []policy.IAMRoleBinding) []policy.IAMRoleBinding {
			b[0].Role = "roles/compute.osLogin"
			return b
		},
		"resource changed": func(b []policy.IAMRoleBinding) []policy.IAMRoleBinding {
			b[0].Resource.ID = "proj-2"
			return b
		},
		"condition dropped": func(b []policy.IAMRoleBinding) []policy.IAMRoleBinding {
			b[1].Condition = ""
			return b
		},
		"binding removed": func(b []policy.IAMRoleBinding) []policy.IAMRoleBinding {
			return b[:2]
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			if ChecksumBindings(mutate(testBindings())) == base {
				t.Error("checksum did not change")
			}
		})
	}
}

func TestTagDescriptionRoundTrip(t *testing.T) {
	tests := []struct {
		description string
		checksum    uint32
	}{
		{"Database administrators", 0xdeadbeef},
		{"", 0x00000001},
		{"Already tagged #01234567", 0xcafef00d},
	}
	for _, tc := range tests {
		tagged := TagDescription(tc.description, tc.checksum)
		text, checksum := ParseDescription(tagged)
		if checksum != tc.checksum {
			t.Errorf("ParseDescription(%q) checksum = %08x, want %08x", tagged, checksum, tc.checksum)
		}
		// Re-tagging must replace, not stack.
		if again := TagDescription(tagged, tc.checksum); again != tagged {
			t.Errorf("TagDescription not idempotent: %q vs %q", again, tagged)
		}
		_ = text
	}
}

func TestParseDescriptionWithoutTag(t *testing.T) {
	text, checksum := ParseDescription("no tag here")
	if text != "no tag here" || checksum != 0 {
		t.Errorf("got (%q, %08x), want (\"no tag here\", 0)", text, checksum)
	}
}
