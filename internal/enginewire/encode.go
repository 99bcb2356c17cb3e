package enginewire

import (
	"fmt"
	"regexp"
	"strings"
)

// SerializeError reports a deterministic violation of the outbound
// message rules in spec §4.1.
type SerializeError struct {
	Reason string
}

func (e *SerializeError) Error() string { return "enginewire: serialize: " + e.Reason }

func serializeErrorf(format string, args ...any) error {
	return &SerializeError{Reason: fmt.Sprintf(format, args...)}
}

const maxChatMessageBytes = 127

// EncodeChatMessage builds the outbound payload for a plain chat
// message (spec §4.1). A leading '/' is doubled so the engine never
// mistakes it for a command.
func EncodeChatMessage(text string) ([]byte, error) {
	if len(text) > maxChatMessageBytes {
		return nil, serializeErrorf("chat message too long: %d bytes (max %d)", len(text), maxChatMessageBytes)
	}
	if strings.HasPrefix(text, "/") {
		text = "/" + text
	}
	return []byte(text), nil
}

var commandNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// EncodeCommand builds the outbound payload for "/command arg1 arg2"
// (spec §4.1). No argument may be empty or contain "//". A space or tab
// is rejected everywhere except in the final argument of a call with
// more than one argument, since only there does the argument run to the
// end of the message with no further argument to be confused with.
func EncodeCommand(name string, args []string) ([]byte, error) {
	if !commandNamePattern.MatchString(name) {
		return nil, serializeErrorf("command name %q does not match [a-z0-9_-]+", name)
	}

	for i, arg := range args {
		isLast := i == len(args)-1
		canHoldSpaces := isLast && len(args) > 1
		if arg == "" {
			return nil, serializeErrorf("argument %d is empty", i)
		}
		if strings.Contains(arg, "//") {
			return nil, serializeErrorf("argument %d contains //", i)
		}
		if !canHoldSpaces && (strings.Contains(arg, " ") || strings.Contains(arg, "\t")) {
			return nil, serializeErrorf("argument %d contains whitespace", i)
		}
	}

	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(name)
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	return []byte(b.String()), nil
}
