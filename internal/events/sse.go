package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeSSE renders an event as a server-sent-events frame:
// "event: <type>\ndata: <json>\n\n".
func EncodeSSE(ev Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		data = []byte("{}")
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", ev.Type, data)
	return buf.Bytes()
}
