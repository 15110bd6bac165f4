package refimage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{255, 0, 0, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return EncodeDataURL("image/png", buf.Bytes())
}

func decodeSize(t *testing.T, dataURL string) image.Point {
	t.Helper()
	mediaType, data, err := ParseDataURL(dataURL)
	if err != nil {
		t.Fatal(err)
	}
	if mediaType != "image/png" {
		t.Fatalf("media type = %s", mediaType)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return image.Point{X: cfg.Width, Y: cfg.Height}
}

func TestNormalizeDownscalesKeepingAspect(t *testing.T) {
	out, err := Normalize(pngDataURL(t, 400, 200), 100, 100)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got := decodeSize(t, out); got != (image.Point{X: 100, Y: 50}) {
		t.Errorf("size = %v, want 100x50", got)
	}
}

func TestNormalizeKeepsSmallPNG(t *testing.T) {
	in := pngDataURL(t, 20, 10)
	out, err := Normalize(in, 512, 512)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Error("a fitting PNG should pass through unchanged")
	}
}

func TestNormalizeConvertsJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil); err != nil {
		t.Fatal(err)
	}
	out, err := Normalize(EncodeDataURL("image/jpeg", buf.Bytes()), 512, 512)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got := decodeSize(t, out); got != (image.Point{X: 16, Y: 16}) {
		t.Errorf("size = %v", got)
	}
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		in        string
		mediaType string
		data      string
		err       bool
	}{
		{"data:text/plain;base64,aGk=", "text/plain", "hi", false},
		{"data:text/plain;base64,aGk", "text/plain", "hi", false},
		{"data:,a%20b", "text/plain", "a b", false},
		{"https://example.com/x.png", "", "", true},
		{"data:image/png;base64", "", "", true},
	}
	for _, tt := range tests {
		mt, data, err := ParseDataURL(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil || mt != tt.mediaType || string(data) != tt.data {
			t.Errorf("%q: got %q %q %v", tt.in, mt, data, err)
		}
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize("data:image/png;base64,AAAA", 10, 10); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Normalize("not a url", 10, 10); !errors.Is(err, ErrNotDataURL) {
		t.Errorf("expected ErrNotDataURL, got %v", err)
	}
	if _, err := Normalize(pngDataURL(t, 2, 2), 0, 10); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}
