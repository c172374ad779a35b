package utils

import (
	"bytes"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return formatJPEG
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return formatPNG
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return formatWebP
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/webp":
		return formatWebP
	}
	return formatUnknown
}

// IsImageContentType reports whether ct declares an image MIME type.  An
// undeclared (empty) type is not an image type.
func IsImageContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "image/")
}

// FitWithin scales (srcW, srcH) down so that neither side exceeds its bound,
// preserving the aspect ratio.  The wider side is clamped first, then the
// other side is re-checked and clamped again.  Images already inside the
// bounds are returned unchanged; zero or negative bounds mean unbounded.
func FitWithin(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	w, h := float64(srcW), float64(srcH)
	if maxW > 0 && w > float64(maxW) {
		h = h * float64(maxW) / w
		w = float64(maxW)
	}
	if maxH > 0 && h > float64(maxH) {
		w = w * float64(maxH) / h
		h = float64(maxH)
	}
	return clampDim(w, maxW), clampDim(h, maxH)
}

func clampDim(v float64, bound int) int {
	n := int(math.Round(v))
	if bound > 0 && n > bound {
		n = bound
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SanitizeFilename replaces every character that is not an ASCII letter,
// digit or dot with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// ReplaceExtension swaps the extension of name for ext (which includes the dot).
func ReplaceExtension(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "image"
	}
	return base + ext
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
