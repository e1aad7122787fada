package events

import (
	"fmt"
	"io"
	"strings"
)

// EncodeFrame writes a frame in the text wire format: three lines (`id:`,
// `event:`, `data:`) terminated by a blank line for data frames, or a single
// comment line for heartbeats. The data payload must be a single JSON value;
// embedded newlines are split across continuation `data:` lines per the
// format's line rules.
func EncodeFrame(w io.Writer, f Frame) error {
	if f.Heartbeat {
		_, err := io.WriteString(w, ": heartbeat\n\n")
		return err
	}
	var b strings.Builder
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	fmt.Fprintf(&b, "event: %s\n", f.Type)
	data := string(f.Data)
	if data == "" {
		data = "{}"
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
