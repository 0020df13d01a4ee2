package stdiocodec

import (
	"io"
	"strings"
)

const previewMaxChars = 240

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return s[i:]
		}
	}
	return s[i:]
}

// preview truncates a line to at most previewMaxChars runes, respecting
// rune (char) boundaries.
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewMaxChars {
		return s
	}
	return string(runes[:previewMaxChars])
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

func isEOFLike(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
