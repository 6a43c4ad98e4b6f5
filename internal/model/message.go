// Package model defines the data structures shared by the SDK core.
package model

import "sort"

// MessageStatus is the local delivery state of a message.
type MessageStatus string

const (
	MessageStatusUnsent            MessageStatus = "unsent"
	MessageStatusSendingFailed     MessageStatus = "sending_failed"
	MessageStatusSent              MessageStatus = "sent"
	MessageStatusUnread            MessageStatus = "unread"
	MessageStatusNotificationShown MessageStatus = "notification_shown"
	MessageStatusRead              MessageStatus = "read"
)

// MessageType is the content type of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeCarousel MessageType = "carousel"
	MessageTypeList     MessageType = "list"
	MessageTypeLocation MessageType = "location"
	MessageTypeForm     MessageType = "form"
)

// Coordinates is a geographic location attached to a location message.
type Coordinates struct {
	Lat  *float64 `json:"lat,omitempty"`
	Long *float64 `json:"long,omitempty"`
}

// MessageAction is an interactive action attached to a message.
type MessageAction struct {
	ID       string         `json:"_id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Text     string         `json:"text,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Payload  string         `json:"payload,omitempty"`
	State    string         `json:"state,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageItem is one entry of a carousel or list message.
type MessageItem struct {
	ID          string          `json:"_id,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	MediaURL    string          `json:"mediaUrl,omitempty"`
	MediaType   string          `json:"mediaType,omitempty"`
	Actions     []MessageAction `json:"actions,omitempty"`
}

// Message is one chat message, sent or received.
//
// Timestamps are unix seconds as served by the backend. Created is assigned
// locally when the message is authored and is the only identity a message has
// until the server acknowledges it with an ID.
type Message struct {
	ID           string          `json:"_id,omitempty"`
	AuthorID     string          `json:"authorId,omitempty"`
	Name         string          `json:"name,omitempty"`
	Role         string          `json:"role,omitempty"`
	Text         string          `json:"text,omitempty"`
	TextFallback string          `json:"textFallback,omitempty"`
	Type         MessageType     `json:"type,omitempty"`
	Payload      string          `json:"payload,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Created      *float64        `json:"created,omitempty"`
	Received     *float64        `json:"received,omitempty"`
	MediaURL     string          `json:"mediaUrl,omitempty"`
	MediaType    string          `json:"mediaType,omitempty"`
	MediaSize    int64           `json:"mediaSize,omitempty"`
	AvatarURL    string          `json:"avatarUrl,omitempty"`
	Coordinates  *Coordinates    `json:"coordinates,omitempty"`
	Actions      []MessageAction `json:"actions,omitempty"`
	Items        []MessageItem   `json:"items,omitempty"`
	Source       *Source         `json:"source,omitempty"`

	// Local-only state, never sent over the wire.
	Status            MessageStatus `json:"-"`
	IsFromCurrentUser bool          `json:"-"`
}

// Source identifies the client that authored a message.
type Source struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Equals reports whether two messages are the same message.
//
// If both messages carry a server ID, identity is ID equality. Otherwise the
// Created timestamps are compared, which lets a locally queued message match
// the server-confirmed copy that arrives with an ID. Two distinct unsent
// messages created in the same clock tick are conflated by this rule; that
// matches backend behavior and is relied upon by de-duplication.
func (m *Message) Equals(o *Message) bool {
	if o == nil {
		return false
	}
	if m.ID != "" && o.ID != "" && m.ID != o.ID {
		return false
	}
	if m.Created != nil && o.Created != nil && *m.Created == *o.Created {
		return true
	}
	return m.ID != "" && o.ID != ""
}

// Update copies the content of rhs into m, preserving object identity so
// every holder of the pointer observes the new state. Created is kept: it is
// the identity that matched the two messages in the first place.
func (m *Message) Update(rhs *Message) {
	m.ID = rhs.ID
	m.AuthorID = rhs.AuthorID
	m.Name = rhs.Name
	m.Role = rhs.Role
	m.Text = rhs.Text
	m.TextFallback = rhs.TextFallback
	m.Type = rhs.Type
	m.Payload = rhs.Payload
	m.Metadata = rhs.Metadata
	m.Received = rhs.Received
	m.MediaURL = rhs.MediaURL
	m.MediaType = rhs.MediaType
	m.MediaSize = rhs.MediaSize
	m.AvatarURL = rhs.AvatarURL
	m.Coordinates = rhs.Coordinates
	m.Actions = rhs.Actions
	m.Items = rhs.Items
	m.Source = rhs.Source
	m.IsFromCurrentUser = rhs.IsFromCurrentUser
}

// Clone returns a deep-enough copy for handing out as a snapshot.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Created != nil {
		v := *m.Created
		c.Created = &v
	}
	if m.Received != nil {
		v := *m.Received
		c.Received = &v
	}
	c.Actions = append([]MessageAction(nil), m.Actions...)
	c.Items = append([]MessageItem(nil), m.Items...)
	return &c
}

// less orders messages by Received, nil sorting last so that locally created,
// not-yet-confirmed messages trail the transcript.
func (m *Message) less(o *Message) bool {
	if m.Received == nil {
		return false
	}
	if o.Received == nil {
		return true
	}
	return *m.Received < *o.Received
}

// SortMessages sorts in place by Received timestamp, nils last.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].less(msgs[j])
	})
}
