package upload

import "bytes"

// SniffLen is the number of leading bytes the pipeline inspects for content
// sniffing. Every registered signature fits well within it.
const SniffLen = 16

// MatchesFormat reports whether prefix begins with one of the magic-number
// signatures registered for rule. A prefix shorter than a signature never
// matches it: insufficient data is a safe non-match, not an error. The prefix
// is only read, never modified.
func MatchesFormat(prefix []byte, rule FormatRule) bool {
	for _, sig := range rule.signatures {
		if len(prefix) < len(sig) {
			continue
		}
		if bytes.Equal(prefix[:len(sig)], []byte(sig)) {
			return true
		}
	}
	return false
}
