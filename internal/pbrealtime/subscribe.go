package pbrealtime

import (
	"context"
	"encoding/json"
	"strings"

	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
)

// Subscribe binds topics to the stream identified by clientID. PocketBase
// replaces the full topic set on every call, so callers pass all topics the
// stream should carry.
func Subscribe(ctx context.Context, conn *pbconn.Connection, clientID string, topics []string) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return ErrMissingClientID
	}
	payload := subscribePayload{ClientID: clientID, Subscriptions: normalizeTopics(topics)}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := conn.Post(ctx, conn.Endpoint("realtime"), body); err != nil {
		return err
	}
	conn.Logger().Debug("realtime topics registered",
		logging.Field("client_id", clientID),
		logging.Field("topics", payload.Subscriptions),
	)
	return nil
}
