package storage

import (
	"fmt"
	"strings"
)

const maxNameBytes = 128

// SanitizeName applies the name-safety rule from the job-lifecycle API
// surface: strip any character outside [A-Za-z0-9._-], strip leading
// '.' characters (the name itself is kept, not refused), prefix with the
// batch ordinal and truncate the result to 128 bytes. Applied both at
// upload time and at every download path reconstruction so the two
// agree.
func SanitizeName(name string, ordinal int) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	for strings.HasPrefix(cleaned, ".") {
		cleaned = strings.TrimPrefix(cleaned, ".")
	}
	if cleaned == "" {
		cleaned = "file"
	}
	prefixed := fmt.Sprintf("%d-%s", ordinal, cleaned)
	if len(prefixed) > maxNameBytes {
		prefixed = prefixed[:maxNameBytes]
	}
	return prefixed
}
