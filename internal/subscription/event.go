package subscription

import (
	"encoding/json"
	"strings"
	"time"

	"pbembed/internal/pbrealtime"
)

// Event is one realtime change delivered to a callback. Valid is false when
// the frame data was not JSON; Data then holds the raw bytes.
type Event struct {
	Valid      bool
	Event      string
	Data       json.RawMessage
	ID         string
	Collection string
	RecordID   string
}

type recordEnvelope struct {
	Action string          `json:"action"`
	Record json.RawMessage `json:"record"`
}

// decodeEvent turns a frame into an Event. PocketBase wraps record changes as
// {"action","record"}; the action then names the event and the record is the
// payload. Other frames keep their event name and raw data.
func decodeEvent(frame pbrealtime.Frame, collection, recordID string) Event {
	event := Event{
		Event:      frame.Name,
		Data:       json.RawMessage(append([]byte(nil), frame.Data...)),
		ID:         frame.ID,
		Collection: collection,
		RecordID:   recordID,
	}
	if !json.Valid(frame.Data) {
		return event
	}
	event.Valid = true

	var envelope recordEnvelope
	if json.Unmarshal(frame.Data, &envelope) == nil && strings.TrimSpace(envelope.Action) != "" {
		event.Event = envelope.Action
		if len(envelope.Record) > 0 {
			event.Data = envelope.Record
		}
	}
	var record struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(event.Data, &record) == nil && record.ID != "" {
		event.RecordID = record.ID
	}
	return event
}

type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotActive
	// SlotReconnecting is an active slot whose stream ended; the next Update
	// reopens it.
	SlotReconnecting
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotActive:
		return "active"
	case SlotReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SlotInfo is a point-in-time view of one slot.
type SlotInfo struct {
	Index      int
	State      SlotState
	Handle     Handle
	Collection string
	RecordID   string
	ClientID   string
	Delivered  int
	Dropped    int64
	LastEvent  time.Time
}

func (i SlotInfo) Topic() string {
	if i.State == SlotEmpty {
		return ""
	}
	return pbrealtime.Topic(i.Collection, i.RecordID)
}

// Slots returns a snapshot of every slot, empty ones included.
func (r *Registry) Slots() []SlotInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SlotInfo, len(r.slots))
	for i := range r.slots {
		s := &r.slots[i]
		info := SlotInfo{
			Index:      i,
			State:      s.state,
			Handle:     s.handle,
			Collection: s.collection,
			RecordID:   s.recordID,
			ClientID:   s.clientID,
			Delivered:  s.delivered,
			LastEvent:  s.lastEvent,
		}
		if s.stream != nil {
			info.Dropped = s.stream.Dropped()
		}
		out[i] = info
	}
	return out
}
