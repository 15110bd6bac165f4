// Package refimage normalizes uploaded reference images into self-contained
// PNG data URLs.
package refimage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/url"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotDataURL  = errors.New("not a data URL")
	ErrEmptyImage  = errors.New("image has no pixels")
	ErrInvalidSize = errors.New("maximum size must be positive")
)

// ParseDataURL splits a data URL into its media type and decoded payload
func ParseDataURL(s string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, isBase64 = m, true
	}
	mediaType = meta
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// some encoders drop the padding
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to decode data URL: %w", err)
		}
		return mediaType, data, nil
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URL: %w", err)
	}
	return mediaType, []byte(unescaped), nil
}

// EncodeDataURL builds a base64 data URL
func EncodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodePNG returns the PNG bytes of a data URL, converting other formats
func DecodePNG(dataURL string) ([]byte, error) {
	mediaType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	if mediaType == "image/png" {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", mediaType, err)
	}
	return encodePNG(img)
}

// Normalize decodes a PNG, JPEG or WebP data URL, scales it down to fit
// maxWidth x maxHeight keeping its aspect ratio, and returns a PNG data URL.
// Images that already fit are only re-encoded.
func Normalize(dataURL string, maxWidth, maxHeight int) (string, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return "", ErrInvalidSize
	}
	_, data, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode reference image: %w", err)
	}
	b := src.Bounds()
	if b.Empty() {
		return "", ErrEmptyImage
	}

	w, h := fitWithin(b.Dx(), b.Dy(), maxWidth, maxHeight)
	var out image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	} else if format == "png" {
		return EncodeDataURL("image/png", data), nil
	}

	encoded, err := encodePNG(out)
	if err != nil {
		return "", err
	}
	return EncodeDataURL("image/png", encoded), nil
}

func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
