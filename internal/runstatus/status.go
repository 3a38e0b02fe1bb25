// Package runstatus names the connection states shown to the user.
package runstatus

import "strings"

const (
	Authenticated    = "Authenticated"
	Subscribed       = "Subscribed"
	Polling          = "Polling"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)

const (
	KeyAuthenticated    = "authenticated"
	KeySubscribed       = "subscribed"
	KeyPolling          = "polling"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Healthy reports whether status is a connected state.
func Healthy(status string) bool {
	switch Key(status) {
	case KeyAuthenticated, KeySubscribed, KeyPolling:
		return true
	default:
		return false
	}
}
