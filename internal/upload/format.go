// Package upload implements the validation-and-safe-persistence pipeline for
// untrusted binary uploads: extension/MIME whitelisting, magic-number content
// sniffing, collision-resistant name generation, canonical-path containment,
// and exclusive (non-overwriting) file creation.
package upload

import "strings"

// signature is a fixed byte sequence expected at the start of a file of a
// given format.
type signature []byte

// FormatRule pairs a file extension with the declared MIME types it accepts
// and the magic-number signatures that identify its content.
type FormatRule struct {
	Extension  string
	MimeTypes  []string
	signatures []signature
}

// AcceptsMime reports whether the declared media type (already normalized by
// the caller) is acceptable for this format.
func (r FormatRule) AcceptsMime(mediaType string) bool {
	for _, m := range r.MimeTypes {
		if m == mediaType {
			return true
		}
	}
	return false
}

// Registry maps allowed file extensions to their FormatRule. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	rules map[string]FormatRule
}

// NewRegistry builds a registry from rules, keyed by lowercased extension.
// Later rules for the same extension are ignored so the "exactly one rule per
// extension" invariant holds regardless of input.
func NewRegistry(rules ...FormatRule) *Registry {
	m := make(map[string]FormatRule, len(rules))
	for _, r := range rules {
		ext := strings.ToLower(r.Extension)
		if _, dup := m[ext]; dup {
			continue
		}
		r.Extension = ext
		m[ext] = r
	}
	return &Registry{rules: m}
}

// Lookup returns the rule registered for ext. Lookup is case-insensitive.
func (g *Registry) Lookup(ext string) (FormatRule, bool) {
	r, ok := g.rules[strings.ToLower(ext)]
	return r, ok
}

// ImageRegistry returns the registry used by the service: PNG, JPEG, and GIF
// with their standard magic numbers.
func ImageRegistry() *Registry {
	return NewRegistry(
		FormatRule{
			Extension: ".png",
			MimeTypes: []string{"image/png"},
			signatures: []signature{
				{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
			},
		},
		FormatRule{
			Extension: ".jpg",
			MimeTypes: []string{"image/jpeg"},
			signatures: []signature{
				{0xFF, 0xD8, 0xFF},
			},
		},
		FormatRule{
			Extension: ".jpeg",
			MimeTypes: []string{"image/jpeg"},
			signatures: []signature{
				{0xFF, 0xD8, 0xFF},
			},
		},
		FormatRule{
			Extension: ".gif",
			MimeTypes: []string{"image/gif"},
			signatures: []signature{
				signature("GIF87a"),
				signature("GIF89a"),
			},
		},
	)
}
