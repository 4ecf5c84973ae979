package utils

import "strings"

// SanitizeFileName replaces path separators and characters that are not
// valid in file names on common filesystems.
func SanitizeFileName(s string) string {
	if s == "" {
		return s
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '/' || r == '\\':
			result.WriteByte('@')
		case r < 0x20 || strings.ContainsRune(`<>:"|?*`, r):
			result.WriteByte('_')
		default:
			result.WriteRune(r)
		}
	}

	return strings.Trim(result.String(), " .")
}
