package mqtt

import (
	"encoding/json"
	"time"
)

// Status states.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

const (
	reasonShutdown       = "graceful_shutdown"
	reasonConnectionLost = "unexpected_disconnect"
)

// Status is the retained message on ceazamet/system/status. Consumers of
// the reading mirror use it to tell a stopped ingester from a quiet
// network.
type Status struct {
	State     string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, state, reason string) []byte {
	// Marshal cannot fail for this type.
	b, _ := json.Marshal(Status{
		State:     state,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return b
}
