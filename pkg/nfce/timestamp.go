package nfce

import (
	"fmt"
	"regexp"
	"time"
)

// PortalZone is the fixed offset the portal prints timestamps in.
var PortalZone = time.FixedZone("BRT", -3*60*60)

var timestampRE = regexp.MustCompile(`\d{2}/\d{2}/\d{4}(?:\s+\d{2}:\d{2}(?::\d{2})?)?`)

var timestampLayouts = []string{"02/01/2006 15:04:05", "02/01/2006 15:04", "02/01/2006"}

// IsolateTimestamp returns the first dd/mm/yyyy[ hh:mm[:ss]] run inside a
// composite label such as "Emissão: 10/03/2024 14:22:01 - Via Consumidor".
// A label with no timestamp is returned unchanged.
func IsolateTimestamp(label string) string {
	if m := timestampRE.FindString(label); m != "" {
		return cleanText(m)
	}
	return label
}

// ParseTimestamp parses a portal timestamp in PortalZone.
func ParseTimestamp(s string) (time.Time, error) {
	v := IsolateTimestamp(cleanText(s))
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, v, PortalZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}
