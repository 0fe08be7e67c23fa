package utils

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatGIF     = "gif"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the first bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// GIF: "GIF8"
	if bytes.HasPrefix(data, []byte("GIF8")) {
		return formatGIF
	}
	// Fallback to net/http sniffing.
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/gif":
		return formatGIF
	}
	return formatUnknown
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.  A derived axis is
// never smaller than 1 pixel.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return max(1, int(float64(srcW)*ratio+0.5)), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, max(1, int(float64(srcH)*ratio+0.5))
	}
	return targetW, targetH
}

// originalToken marks a master file, e.g. "hero-original.jpg".
const originalToken = "original."

// Stem returns the output stem for a source filename: everything before the
// first "original." token when present, otherwise the name without its
// extension.  A single trailing '-', '_' or '.' left by the token is trimmed.
func Stem(source string) string {
	name := filepath.Base(source)
	if i := strings.Index(name, originalToken); i >= 0 {
		stem := name[:i]
		if n := len(stem); n > 0 && strings.ContainsRune("-_.", rune(stem[n-1])) {
			stem = stem[:n-1]
		}
		if stem != "" {
			return stem
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// OutputName returns "<stem>-<width>.<ext>" for a source filename.
func OutputName(source string, width int, ext string) string {
	return fmt.Sprintf("%s-%d.%s", Stem(source), width, ext)
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
