package convert

import (
	"path/filepath"
	"strings"
)

// maxBaseLen bounds the base name after sanitization. LibreOffice derives
// its output name from the input, so an unbounded name would leak into the
// output discovery path.
const maxBaseLen = 45

// Sanitize normalizes an untrusted uploaded filename into a safe token for
// filesystem use. The base name is restricted to [A-Za-z0-9_.-], every other
// rune replaced with underscore, and truncated to 45 bytes. A base that ends
// up empty becomes "document". The extension is preserved unmodified.
// Always returns a usable string.
func Sanitize(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	var sb strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if len(out) > maxBaseLen {
		out = out[:maxBaseLen]
	}
	// Whitespace-only or empty input degrades to underscores only.
	if strings.Trim(out, "_") == "" {
		out = "document"
	}
	return out + ext
}
