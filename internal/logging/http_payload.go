package logging

import (
	"bytes"
	"encoding/json"
	"strings"
)

// maxPayloadLogBytes bounds how much of a response body is rendered into a
// log line.
const maxPayloadLogBytes = 4096

// FormatHTTPPayload renders an HTTP body for log output. JSON bodies are
// pretty-printed; anything else is returned trimmed. Oversized bodies are
// clipped before decoding.
func FormatHTTPPayload(raw []byte) string {
	clipped := false
	if len(raw) > maxPayloadLogBytes {
		raw = raw[:maxPayloadLogBytes]
		clipped = true
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}
	if clipped {
		return trimmed + "...(clipped)"
	}

	// JSON string body: "\"{...}\"" or "\"error\""
	var quoted string
	if err := json.Unmarshal([]byte(trimmed), &quoted); err == nil {
		trimmed = strings.TrimSpace(quoted)
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(value); encErr == nil {
			return strings.TrimSpace(buf.String())
		}
	}

	return trimmed
}

// RedactToken keeps only the first and last four characters of a credential.
func RedactToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "<none>"
	case len(token) <= 12:
		return "****"
	default:
		return token[:4] + "..." + token[len(token)-4:]
	}
}
