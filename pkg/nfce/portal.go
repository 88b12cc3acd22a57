package nfce

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// DefaultPortalURL is the Rio Grande do Norte consumer-receipt lookup page.
const DefaultPortalURL = "http://nfce.set.rn.gov.br/portalDFE/NFCe/mDadosNFCe.aspx"

// NormalizeAccessKey drops all whitespace from a typed or printed access key.
func NormalizeAccessKey(key string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, key)
}

// PortalURL builds the lookup address for key under base, carried in the "p" parameter.
func PortalURL(base, key string) (string, error) {
	key = NormalizeAccessKey(key)
	if key == "" {
		return "", ErrNoAccessKey
	}
	if base == "" {
		base = DefaultPortalURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse portal url: %w", err)
	}
	q := u.Query()
	q.Set("p", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResolveTarget turns user input into a portal address. Absolute http(s) URLs,
// like the ones printed in receipt QR codes, pass through; anything else is
// treated as an access key.
func ResolveTarget(base, input string) (string, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return "", ErrNoAccessKey
	}
	if u, err := url.Parse(in); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return in, nil
	}
	return PortalURL(base, in)
}

// AccessKeyFromURL returns the access key carried in a portal or QR URL, or ""
// when there is none. QR payloads append "|version|env|..." after the key.
func AccessKeyFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	p := u.Query().Get("p")
	if i := strings.IndexByte(p, '|'); i >= 0 {
		p = p[:i]
	}
	return NormalizeAccessKey(p)
}
