package nfce

import (
	"errors"
	"testing"
)

func TestPortalURL(t *testing.T) {
	u, err := PortalURL("", " 2403 1234 ")
	if err != nil {
		t.Fatalf("portal url: %v", err)
	}
	if u != DefaultPortalURL+"?p=24031234" {
		t.Fatalf("unexpected url %s", u)
	}
	if _, err := PortalURL("", "   "); !errors.Is(err, ErrNoAccessKey) {
		t.Fatalf("expected ErrNoAccessKey got %v", err)
	}
}

func TestResolveTarget(t *testing.T) {
	qr := "http://nfce.set.rn.gov.br/consultarNFCe.aspx?p=24031234567800019065|2|1|1|ABC"
	got, err := ResolveTarget("", qr)
	if err != nil || got != qr {
		t.Fatalf("qr url should pass through, got %q err=%v", got, err)
	}
	got, err = ResolveTarget("http://example.test/nfce", "2403 1234")
	if err != nil || got != "http://example.test/nfce?p=24031234" {
		t.Fatalf("unexpected target %q err=%v", got, err)
	}
	if _, err := ResolveTarget("", ""); !errors.Is(err, ErrNoAccessKey) {
		t.Fatalf("expected ErrNoAccessKey got %v", err)
	}
}

func TestAccessKeyFromURL(t *testing.T) {
	if k := AccessKeyFromURL("http://x/?p=24031234567800019065|2|1|1|ABC"); k != "24031234567800019065" {
		t.Fatalf("unexpected key %q", k)
	}
	if k := AccessKeyFromURL("http://x/"); k != "" {
		t.Fatalf("expected empty key got %q", k)
	}
}
