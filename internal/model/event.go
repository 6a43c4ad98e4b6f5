package model

// ConversationEventType identifies a conversation activity event.
type ConversationEventType string

const (
	EventConversationRead    ConversationEventType = "conversation:read"
	EventConversationAdded   ConversationEventType = "conversation:added"
	EventConversationRemoved ConversationEventType = "conversation:removed"
	EventParticipantAdded    ConversationEventType = "participant:added"
	EventParticipantRemoved  ConversationEventType = "participant:removed"
	EventTypingStart         ConversationEventType = "typing:start"
	EventTypingStop          ConversationEventType = "typing:stop"
)

// ParticipantRole distinguishes which side of the conversation authored an
// activity event.
type ParticipantRole string

const (
	RoleBusiness ParticipantRole = "appMaker"
	RoleAppUser  ParticipantRole = "appUser"
)

// ConversationEvent is an activity event delivered over the realtime
// channel: read receipts, typing indicators, participant changes.
type ConversationEvent struct {
	ConversationID string                `json:"conversationId,omitempty"`
	Type           ConversationEventType `json:"type,omitempty"`
	Role           ParticipantRole       `json:"role,omitempty"`
	AppUserID      string                `json:"appUserId,omitempty"`
	Name           string                `json:"name,omitempty"`
	LastRead       *float64              `json:"lastRead,omitempty"`
}
