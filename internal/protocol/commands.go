// Package protocol implements the line oriented fswatch protocol spoken by
// the Unison synchronizer to its filesystem monitor.
package protocol

// Version is the protocol version announced during the handshake
const Version = "1"

// Commands sent by the client
const (
	CmdVersion = "VERSION"
	CmdStart   = "START"
	CmdDir     = "DIR"
	CmdLink    = "LINK"
	CmdDone    = "DONE"
	CmdWait    = "WAIT"
	CmdChanges = "CHANGES"
	CmdReset   = "RESET"
	CmdDebug   = "DEBUG"
)

// Replies sent by the adapter
const (
	ReplyOK        = "OK"
	ReplyError     = "ERROR"
	ReplyRecursive = "RECURSIVE"
	ReplyChanges   = "CHANGES"
	ReplyDone      = "DONE"
	ReplyVersion   = "VERSION"
)

var aliases = map[string]string{
	"REGISTER":      CmdStart,
	"UNREGISTER":    CmdReset,
	"QUERY_CHANGES": CmdChanges,
	"SET_DEBUG":     CmdDebug,
}

// Canonical maps alternative command spellings onto their wire names
func Canonical(name string) string {
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Command is one decoded protocol line
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "" when absent
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}
