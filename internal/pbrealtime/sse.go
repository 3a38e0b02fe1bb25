package pbrealtime

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxFrameBytes = 1 << 20

// readFrames parses a server-sent event stream and hands each complete frame
// to emit. A frame still pending when the stream ends is discarded. It returns
// the error that ended the stream, io.EOF on a clean close.
func readFrames(reader io.Reader, emit func(Frame) bool) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 16*1024), maxFrameBytes)

	var (
		id, name string
		data     bytes.Buffer
		hasData  bool
	)
	flush := func() bool {
		if name == "" && !hasData {
			return true
		}
		frame := Frame{ID: id, Name: name, Data: append([]byte(nil), data.Bytes()...)}
		id, name = "", ""
		data.Reset()
		hasData = false
		return emit(frame)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !flush() {
				return io.ErrClosedPipe
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = strings.TrimSpace(value)
		case "id":
			id = strings.TrimSpace(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
