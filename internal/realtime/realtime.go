// Package realtime delivers server-pushed conversation traffic. The transport
// is NATS; subjects are scoped per app and app user so one connection carries
// everything the current user can see.
package realtime

import (
	"github.com/clarabridge/chat-sdk-go/internal/model"
)

// Delegate receives decoded realtime traffic. Implementations must be safe to
// call from the monitor's receive goroutine.
type Delegate interface {
	OnMessageReceived(conversationID string, msg *model.Message)
	OnMessageRejected(conversationID, messageID string, errorCode string)
	OnUploadComplete(conversationID string, msg *model.Message)
	OnConversationActivityReceived(ev *model.ConversationEvent)
	OnMonitorConnected()
	OnMonitorDisconnected()
}

// Monitor is a pausable realtime connection. Resume and Pause are idempotent;
// Close is terminal.
type Monitor interface {
	Resume()
	Pause()
	Close()
	IsConnected() bool
	AppID() string
}

// Options configures a monitor. Durations are in seconds, mirroring the
// realtime settings block of the user payload.
type Options struct {
	AppID     string
	AppUserID string
	URL       string

	RetryInterval         int
	MaxConnectionAttempts int
	ConnectionDelay       int
}

// messageEnvelope is the wire shape of message, rejection and upload events.
type messageEnvelope struct {
	ConversationID string         `json:"conversationId"`
	Message        *model.Message `json:"message"`
	ErrorCode      string         `json:"errorCode,omitempty"`
}
