package pbrealtime

import (
	"encoding/json"
	"errors"
	"strings"
)

// ConnectEvent is the first frame of every realtime stream. It carries the
// server-assigned client id used to register subscriptions.
const ConnectEvent = "PB_CONNECT"

var (
	ErrNoFrame         = errors.New("no realtime frame available")
	ErrMissingClientID = errors.New("missing realtime client id")
)

// Frame is one server-sent event.
type Frame struct {
	ID   string
	Name string
	Data []byte
}

func (f Frame) IsConnect() bool { return f.Name == ConnectEvent }

type connectPayload struct {
	ClientID string `json:"clientId"`
}

type subscribePayload struct {
	ClientID      string   `json:"clientId"`
	Subscriptions []string `json:"subscriptions"`
}

// ParseConnect extracts the client id from a PB_CONNECT frame. The frame id
// is used when the payload does not carry one.
func ParseConnect(frame Frame) (string, error) {
	payload := connectPayload{}
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return "", errors.Join(ErrMissingClientID, err)
		}
	}
	clientID := strings.TrimSpace(payload.ClientID)
	if clientID == "" {
		clientID = strings.TrimSpace(frame.ID)
	}
	if clientID == "" {
		return "", ErrMissingClientID
	}
	return clientID, nil
}

// Topic names the realtime channel for a record, or for the whole collection
// when recordID is empty or "*".
func Topic(collection, recordID string) string {
	collection = strings.TrimSpace(collection)
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		recordID = "*"
	}
	return collection + "/" + recordID
}

func normalizeTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		name := strings.TrimSpace(topic)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
