package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "abc/def-1.txt", want: "abc/def-1.txt"},
		{name: "space", in: "my file", want: "my%20file"},
		{name: "percent", in: "100%", want: "100%25"},
		{name: "newline", in: "a\nb", want: "a%0Ab"},
		{name: "utf8", in: "é", want: "%C3%A9"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestUnquoteRoundTrip(t *testing.T) {
	for _, s := range []string{"/tmp/a b/c", "100% done", "tab\there", "日本語", "a+b"} {
		assert.Equal(t, s, Unquote(Quote(s)))
	}
}

func TestUnquoteMalformedEscapesAreKept(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "bad%2", want: "bad%2"},
		{in: "r%zz", want: "r%zz"},
		{in: "%", want: "%"},
		{in: "100%%41", want: "100%A"},
		{in: "a%2fb", want: "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Unquote(tt.in))
		})
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "OK\n", Encode(ReplyOK))
	assert.Equal(t, "CHANGES r1\n", Encode(ReplyChanges, "r1"))
	assert.Equal(t, "RECURSIVE \n", Encode(ReplyRecursive, ""))
	assert.Equal(t, "ERROR unknown%20replica%3A%20x\n", Encode(ReplyError, "unknown replica: x"))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{name: "no args", line: "DEBUG\n", want: Command{Name: "DEBUG"}},
		{name: "args", line: "START h1 /tmp/a%20b\n", want: Command{Name: "START", Args: []string{"h1", "/tmp/a b"}}},
		{name: "trailing empty arg", line: "START h1 /tmp/a \n", want: Command{Name: "START", Args: []string{"h1", "/tmp/a"}}},
		{name: "crlf", line: "WAIT r1\r\n", want: Command{Name: "WAIT", Args: []string{"r1"}}},
		{name: "empty", line: "\n", want: Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.line))
		})
	}
}

func TestDecodeBadEscape(t *testing.T) {
	assert.Equal(t, Command{Name: "WAIT", Args: []string{"r%zz"}}, Decode("WAIT r%zz\n"))
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, CmdStart, Canonical("REGISTER"))
	assert.Equal(t, CmdReset, Canonical("UNREGISTER"))
	assert.Equal(t, CmdChanges, Canonical("QUERY_CHANGES"))
	assert.Equal(t, CmdDebug, Canonical("SET_DEBUG"))
	assert.Equal(t, CmdWait, Canonical(CmdWait))
}

func TestReaderEndOfStream(t *testing.T) {
	r := NewReader(strings.NewReader("VERSION 1\nWAIT r1"))

	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, Command{Name: "VERSION", Args: []string{"1"}}, cmd)

	// Unterminated trailing fragment means the client went away
	_, err = r.ReadCommand()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnFlushesBeforeRead(t *testing.T) {
	var out bytes.Buffer
	conn := NewConn(strings.NewReader("DONE\n"), &out)

	require.NoError(t, conn.SendOK())
	assert.Empty(t, out.String(), "Send must buffer")

	_, err := conn.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out.String())
}

func TestWriterInjectFlushes(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	require.NoError(t, w.Send(ReplyOK))
	require.NoError(t, w.Inject(ReplyChanges, "r1"))
	assert.Equal(t, "OK\nCHANGES r1\n", out.String())
}

func TestCommandArg(t *testing.T) {
	cmd := Command{Name: "START", Args: []string{"a", "b"}}
	assert.Equal(t, "b", cmd.Arg(1))
	assert.Equal(t, "", cmd.Arg(2))
	assert.Equal(t, "", cmd.Arg(-1))
}
