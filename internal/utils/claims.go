package utils

import "strings"

// ClaimStrings reads a multi-valued token claim. Identity providers encode roles
// and groups as a JSON array, a single string, or a space separated scope string,
// and non-string array entries are dropped.
func ClaimStrings(v any) []string {
	switch claim := v.(type) {
	case []string:
		return claim
	case []any:
		values := make([]string, 0, len(claim))
		for _, entry := range claim {
			if s, ok := entry.(string); ok && s != "" {
				values = append(values, s)
			}
		}
		return values
	case string:
		return strings.Fields(claim)
	}
	return nil
}
