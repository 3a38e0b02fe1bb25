package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"
)

const clipLimit = 240

// Truncate flattens a value onto one line and clips it for compact views.
func Truncate(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format(time.TimeOnly))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Level, event.Fields) {
		fmt.Fprintf(&b, " %s=%s", key, formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if pretty, ok := prettyJSONValue(value); ok {
		return pretty
	}
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", value)
}

// prettyJSONValue reports whether value renders as a JSON object or array and
// returns the indented form.
func prettyJSONValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case error:
		return prettyJSONValue(v.Error())
	case string:
		return prettyJSONText(v)
	case []byte:
		return prettyJSONText(string(v))
	case json.RawMessage:
		return prettyJSONText(string(v))
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if out, err := marshalPrettyJSON(rv.Interface()); err == nil {
			return out, true
		}
	}
	return "", false
}

func prettyJSONText(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", false
	}
	out, err := marshalPrettyJSON(decoded)
	if err != nil {
		return "", false
	}
	return out, true
}

func marshalPrettyJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// orderedFieldKeys sorts scalar fields first, then JSON fields, with
// payload-like JSON fields last.
func orderedFieldKeys(_ slog.Level, fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rank := func(key string) int {
		if _, ok := prettyJSONValue(fields[key]); !ok {
			return 0
		}
		if isPayloadFieldKey(key) {
			return 2
		}
		return 1
	}
	sort.SliceStable(keys, func(i, j int) bool { return rank(keys[i]) < rank(keys[j]) })
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "data", "record":
		return true
	default:
		return false
	}
}
