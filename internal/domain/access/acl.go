package access

// EntryKind discriminates allow and deny ACL entries.
type EntryKind string

const (
	// Allow grants the entry's mask to matching principals.
	Allow EntryKind = "allow"
	// Deny revokes access for matching principals. A deny entry anywhere in
	// the evaluated sequence wins over any allow entry.
	Deny EntryKind = "deny"
)

// Entry is one ordered element of an access control list.
type Entry struct {
	Kind      EntryKind
	Principal Principal
	Mask      Mask
}

// AllowEntry builds an allow entry.
func AllowEntry(p Principal, mask Mask) Entry {
	return Entry{Kind: Allow, Principal: p, Mask: mask}
}

// DenyEntry builds a deny entry.
func DenyEntry(p Principal, mask Mask) Entry {
	return Entry{Kind: Deny, Principal: p, Mask: mask}
}

// ACL is an ordered sequence of allow/deny entries. The zero value denies
// everything.
type ACL struct {
	Entries []Entry
}

// Concat returns a new ACL with the entries of both lists, this one first.
// Effective ACLs are built by concatenating ancestor lists root to leaf, so
// an ancestor's deny entry is evaluated before any descendant allow.
func (a ACL) Concat(other ACL) ACL {
	entries := make([]Entry, 0, len(a.Entries)+len(other.Entries))
	entries = append(entries, a.Entries...)
	entries = append(entries, other.Entries...)
	return ACL{Entries: entries}
}

// IsAllowed reports whether subject holds every bit of required. Entries are
// walked in order: a deny entry matching any of the subject's principals and
// intersecting required denies immediately; otherwise allowed bits from
// matching allow entries accumulate, and access is granted iff the
// accumulated mask covers required. A zero required mask never grants.
func (a ACL) IsAllowed(subject *Subject, required Mask) bool {
	if subject == nil || required == 0 {
		return false
	}
	var granted Mask
	for _, entry := range a.Entries {
		if !subject.HasPrincipal(entry.Principal) {
			continue
		}
		switch entry.Kind {
		case Deny:
			if entry.Mask.Intersects(required) {
				return false
			}
		case Allow:
			granted |= entry.Mask
		}
	}
	return granted.Contains(required)
}

// AllowedPrincipals returns the distinct principals granted every bit of
// required by allow entries, excluding principals that a deny entry strips
// of any of those bits. Order follows first appearance in the list.
func (a ACL) AllowedPrincipals(required Mask) []Principal {
	if required == 0 {
		return nil
	}
	denied := make(map[Principal]struct{})
	for _, entry := range a.Entries {
		if entry.Kind == Deny && entry.Mask.Intersects(required) {
			denied[entry.Principal] = struct{}{}
		}
	}
	granted := make(map[Principal]Mask)
	var order []Principal
	for _, entry := range a.Entries {
		if entry.Kind != Allow {
			continue
		}
		if _, ok := denied[entry.Principal]; ok {
			continue
		}
		if _, seen := granted[entry.Principal]; !seen {
			order = append(order, entry.Principal)
		}
		granted[entry.Principal] |= entry.Mask
	}
	out := make([]Principal, 0, len(order))
	for _, p := range order {
		if granted[p].Contains(required) {
			out = append(out, p)
		}
	}
	return out
}
