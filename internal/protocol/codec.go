package protocol

import (
	"strings"
)

const upperhex = "0123456789ABCDEF"

// shouldEscape reports whether b must be percent-encoded. The safe set is the
// one used by the reference Python adapter (urllib quote with "/" kept).
func shouldEscape(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return false
	}
	switch b {
	case '-', '_', '.', '~', '/':
		return false
	}
	return true
}

// Quote percent-encodes a single protocol argument
func Quote(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unquote decodes a percent-encoded argument. A "%" that does not start a
// valid escape is kept as is, matching the client's own unquoting.
func Unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// Encode renders a command and its arguments as one newline terminated line
func Encode(cmd string, args ...string) string {
	var b strings.Builder
	b.WriteString(cmd)
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(Quote(arg))
	}
	b.WriteByte('\n')
	return b.String()
}

// Decode parses one line into a command. The line terminator is optional.
func Decode(line string) Command {
	words := strings.Fields(line)
	if len(words) == 0 {
		return Command{}
	}

	cmd := Command{Name: words[0]}
	if len(words) > 1 {
		cmd.Args = make([]string, 0, len(words)-1)
	}
	for _, word := range words[1:] {
		cmd.Args = append(cmd.Args, Unquote(word))
	}
	return cmd
}
