// Package slugutil implements wikidot-normal form: the slug normalization
// rules used as the boundary contract between the catalog and the revision
// store.
package slugutil

import "strings"

// Normalize lowercases s, collapses runs of non [a-z0-9] characters into a
// single '-' within each ':'-delimited category segment, and strips leading
// and trailing '-' from each segment and from the whole result. ':' is
// preserved verbatim as a category separator.
func Normalize(s string) string {
	lower := strings.ToLower(s)
	segments := strings.Split(lower, ":")
	for i, seg := range segments {
		segments[i] = normalizeSegment(seg)
	}
	normalized := strings.Join(segments, ":")
	return strings.Trim(normalized, "-")
}

func normalizeSegment(seg string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range seg {
		if isAlnum(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// IsNormal reports whether s is already in wikidot-normal form, i.e.
// Normalize(s) == s and s is non-empty. A slug crossing the revision-store
// boundary that fails this check is a programmer bug
// (apperr.ErrSlugNotNormal), never silently corrected.
func IsNormal(s string) bool {
	return s != "" && Normalize(s) == s
}
