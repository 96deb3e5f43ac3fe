package export

import (
	"mime"
	"strings"
	"unicode"

	"github.com/movieshorts/movieshorts/internal/catalog"
)

const maxDownloadName = 120

func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// DownloadName builds an attachment filename from a client supplied name.
// The extension is replaced by ext; fallback is used when nothing usable
// remains after sanitising.
func DownloadName(originalName, fallback, ext string) string {
	base := SanitizeName(catalog.BaseName(originalName), maxDownloadName)
	base = strings.Trim(base, ". ")
	if base == "" {
		base = SanitizeName(fallback, maxDownloadName)
	}
	if base == "" {
		base = "download"
	}
	return base + ext
}

// ContentDisposition formats an attachment header value for filename.
func ContentDisposition(filename string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if v == "" {
		return `attachment; filename="download"`
	}
	return v
}
