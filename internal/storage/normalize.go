package storage

import "strings"

// corporate suffixes stripped during company-name normalization.
var companySuffixes = []string{
	"incorporated", "corporation", "limited", "company",
	"inc", "corp", "llc", "ltd", "gmbh", "plc", "co",
}

// NormalizeCompany reduces a raw company name to a canonical join key:
// lowercased, punctuation removed, corporate suffixes stripped, whitespace
// collapsed. "Acme, Inc." and "ACME Corp" both normalize to "acme".
func NormalizeCompany(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for len(words) > 1 {
		last := words[len(words)-1]
		if !isCompanySuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isCompanySuffix(w string) bool {
	for _, s := range companySuffixes {
		if w == s {
			return true
		}
	}
	return false
}

// NormalizeSchool canonicalizes a school name for shared-school overlap
// joins. Same rules as companies minus the suffix stripping.
func NormalizeSchool(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
