package nfce

import "strings"

// snippet returns a shortened version of s for logging.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// cleanText collapses whitespace, newlines and tabs included.
func cleanText(t string) string {
	return strings.Join(strings.Fields(t), " ")
}

// stripLabel drops a leading "Label:" from cells like "Qtde.:1,000".
func stripLabel(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
