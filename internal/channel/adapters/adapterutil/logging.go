// Package adapterutil provides shared utilities for channel adapters.
package adapterutil

import "strings"

// SummarizeText returns a preview of text for logs, cut at 120 characters (not bytes, so Arabic
// text is never split inside a rune).
func SummarizeText(text string) string {
	value := strings.TrimSpace(text)
	if value == "" {
		return ""
	}
	const limit = 120
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
