package ui

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// maxPayloadPreview caps how much of a payload one line shows
const maxPayloadPreview = 120

// Notification is one unsolicited frame as shown by watch
type Notification struct {
	Time    time.Time
	Command protocol.Command
	Payload []byte
}

// FormatPayload renders a payload for display: NUL separators become " | ",
// non-printable bytes become '.', and long payloads are cut.
func FormatPayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	args := protocol.SplitArgs(payload, 0)
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = printable(a)
	}
	s := strings.Join(parts, " | ")
	if utf8.RuneCountInString(s) > maxPayloadPreview {
		r := []rune(s)
		s = string(r[:maxPayloadPreview]) + "..."
	}
	return s
}

func printable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 || r < 0x20 || r == 0x7f {
			sb.WriteByte('.')
		} else {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}

// FormatNotification renders a notification as one plain line for
// non-interactive output
func FormatNotification(n Notification) string {
	line := n.Time.Format("15:04:05.000") + " " + n.Command.String()
	if p := FormatPayload(n.Payload); p != "" {
		line += " " + p
	}
	return line
}
