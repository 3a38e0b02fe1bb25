package monitor

import (
	"fmt"
	"time"

	"pbembed/internal/subscription"
)

const (
	quietAfter = 5 * time.Minute
	staleAfter = time.Hour
)

type Kind int

const (
	Empty Kind = iota
	Fresh
	Quiet
	Stale
	Reconnecting
)

// SlotRow is one line of the slot table.
type SlotRow struct {
	Index     int
	Topic     string
	Kind      Kind
	Delivered int
	Dropped   int64
	Reason    string
}

// ComputeRows classifies every slot by state and by how long ago it last
// delivered an event.
func ComputeRows(slots []subscription.SlotInfo, now time.Time) []SlotRow {
	rows := make([]SlotRow, 0, len(slots))
	for _, info := range slots {
		row := SlotRow{
			Index:     info.Index,
			Kind:      Empty,
			Delivered: info.Delivered,
			Dropped:   info.Dropped,
			Reason:    "free",
		}
		switch info.State {
		case subscription.SlotEmpty:
			rows = append(rows, row)
			continue
		case subscription.SlotReconnecting:
			row.Topic = info.Topic()
			row.Kind = Reconnecting
			row.Reason = "stream lost, reconnecting"
			rows = append(rows, row)
			continue
		}

		row.Topic = info.Topic()
		if info.LastEvent.IsZero() {
			row.Kind = Quiet
			row.Reason = "no events yet"
			rows = append(rows, row)
			continue
		}
		age := now.Sub(info.LastEvent)
		switch {
		case age <= quietAfter:
			row.Kind = Fresh
			row.Reason = fmt.Sprintf("last event %s ago", age.Round(time.Second))
		case age <= staleAfter:
			row.Kind = Quiet
			row.Reason = fmt.Sprintf("no events for %s", age.Round(time.Second))
		default:
			row.Kind = Stale
			row.Reason = fmt.Sprintf("no events for %s", age.Round(time.Minute))
		}
		rows = append(rows, row)
	}
	return rows
}
