package qr

import (
	"bytes"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

const payload = "http://nfce.set.rn.gov.br/consultarNFCe.aspx?p=24031234567800019065001000123456112345678901|2|1|1|0A1B2C"

func encodeQR(t *testing.T, text string) []byte {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 400, 400, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, m, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeRoundTrip(t *testing.T) {
	got, err := Decode(bytes.NewReader(encodeQR(t, payload)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != payload {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeFile(t *testing.T) {
	img, err := imaging.Decode(bytes.NewReader(encodeQR(t, payload)))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nota.jpg")
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := DecodeFile(path)
	if err != nil || got != payload {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestDecodeBlank(t *testing.T) {
	blank := imaging.New(300, 300, color.NRGBA{255, 255, 255, 255})
	if _, err := DecodeImage(blank); !errors.Is(err, ErrNoCode) {
		t.Fatalf("expected ErrNoCode got %v", err)
	}
}
