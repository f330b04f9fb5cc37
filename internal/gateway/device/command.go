package device

import (
	"fmt"
	"regexp"
	"strings"
)

// Command is one verb of the controller's line protocol. The firmware
// acknowledges each request with "OK:<VERB>".
type Command string

const (
	CmdForward  Command = "FORWARD"
	CmdBackward Command = "BACKWARD"
	CmdLeft     Command = "LEFT"
	CmdRight    Command = "RIGHT"
	CmdStop     Command = "STOP"
	CmdPing     Command = "PING"
)

// directions maps wire-level direction names to commands.
var directions = map[string]Command{
	"forward":  CmdForward,
	"backward": CmdBackward,
	"left":     CmdLeft,
	"right":    CmdRight,
	"stop":     CmdStop,
}

// Verb returns the ASCII token written to the controller.
func (c Command) Verb() string {
	return string(c)
}

// expectedReply is the acknowledgment line for a successful command.
func (c Command) expectedReply() string {
	return "OK:" + string(c)
}

// pingClass commands tolerate any "OK:"-prefixed acknowledgment. The
// firmware answers a PING issued right after reset with whatever status
// line it was about to emit.
func (c Command) pingClass() bool {
	return c == CmdPing
}

// ParseDirection maps a client-supplied direction to its Command.
func ParseDirection(dir string) (Command, error) {
	cmd, ok := directions[strings.ToLower(strings.TrimSpace(dir))]
	if !ok {
		return "", fmt.Errorf("invalid direction: %q", dir)
	}
	return cmd, nil
}

// ValidDirections lists the accepted direction names, for error messages.
func ValidDirections() []string {
	return []string{"forward", "backward", "left", "right", "stop"}
}

// rawVerbPattern constrains raw commands to a single uppercase token. A
// token with embedded whitespace or a line terminator would desynchronize
// the line reader, so anything outside this set is rejected outright.
var rawVerbPattern = regexp.MustCompile(`^[A-Z0-9_]{1,16}$`)

// NewRawCommand validates an operator-supplied diagnostic command and
// returns it as a Command. The input is trimmed and uppercased first.
func NewRawCommand(s string) (Command, error) {
	verb := strings.ToUpper(strings.TrimSpace(s))
	if verb == "" {
		return "", fmt.Errorf("raw command is empty")
	}
	if !rawVerbPattern.MatchString(verb) {
		return "", fmt.Errorf("invalid raw command %q: must be a single token of A-Z, 0-9 or _", s)
	}
	return Command(verb), nil
}
