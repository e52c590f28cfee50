package provision

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/groupgate/groupgate/internal/domain/policy"
)

// checksumTagRe matches the trailing checksum tag of a group description.
var checksumTagRe = regexp.MustCompile(`\s*#([0-9a-f]{8})$`)

// ChecksumBindings computes the 32-bit drift-detection checksum of a binding
// set. The set is normalized first (sorted by resource, role, condition,
// description), so the checksum is independent of declaration order.
func ChecksumBindings(bindings []policy.IAMRoleBinding) uint32 {
	normalized := make([]policy.IAMRoleBinding, len(bindings))
	copy(normalized, bindings)
	sort.Slice(normalized, func(i, j int) bool {
		a, b := normalized[i], normalized[j]
		if a.Resource != b.Resource {
			return a.Resource.String() < b.Resource.String()
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.Condition != b.Condition {
			return a.Condition < b.Condition
		}
		return a.Description < b.Description
	})

	digest := xxhash.New()
	for _, b := range normalized {
		fmt.Fprintf(digest, "%s\x00%s\x00%s\x00%s\x1e", b.Resource, b.Role, b.Condition, b.Description)
	}
	sum := digest.Sum64()
	return uint32(sum) ^ uint32(sum>>32)
}

// TagDescription appends the checksum tag to the user-visible description,
// replacing any existing tag.
func TagDescription(description string, checksum uint32) string {
	description = strings.TrimSpace(checksumTagRe.ReplaceAllString(description, ""))
	if description == "" {
		return fmt.Sprintf("#%08x", checksum)
	}
	return fmt.Sprintf("%s #%08x", description, checksum)
}

// ParseDescription splits a tagged description into the user text and the
// stored checksum. A missing tag parses as checksum zero, which always
// signals drift.
func ParseDescription(tagged string) (description string, checksum uint32) {
	match := checksumTagRe.FindStringSubmatch(tagged)
	if match == nil {
		return tagged, 0
	}
	fmt.Sscanf(match[1], "%08x", &checksum)
	return strings.TrimSpace(strings.TrimSuffix(tagged, match[0])), checksum
}
