package model

import (
	"sort"
	"sync"
)

// Conversation is one chat thread. The orchestrator owns the single
// authoritative instance per process; it is updated in place (never replaced)
// so that every holder of the pointer observes mutations.
//
// The message list is guarded by an internal lock for any read-modify-write:
// a realtime append can race a transcript merge or a mark-all-read sweep.
// Always pass conversations by pointer.
type Conversation struct {
	ID               string         `json:"_id,omitempty"`
	DisplayName      string         `json:"displayName,omitempty"`
	Description      string         `json:"description,omitempty"`
	IconURL          string         `json:"iconUrl,omitempty"`
	Type             string         `json:"type,omitempty"`
	IsDefault        bool           `json:"isDefault,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	LastUpdatedAt    *float64       `json:"lastUpdatedAt,omitempty"`
	BusinessLastRead *float64       `json:"businessLastRead,omitempty"`
	Participants     []*Participant `json:"participants,omitempty"`
	Messages         []*Message     `json:"messages,omitempty"`

	mu sync.Mutex
}

// Lock acquires the message-list lock. Callers that iterate and mutate the
// list directly must hold it; the exported methods below take it themselves.
func (c *Conversation) Lock()   { c.mu.Lock() }
func (c *Conversation) Unlock() { c.mu.Unlock() }

// Update merges rhs into c in place.
//
// Scalar attributes and participants are always replaced. For messages: if
// either side is empty the incoming list replaces the current one; if none of
// the incoming messages match an existing one the whole list is replaced
// (different conversation content); otherwise each incoming message is merged
// by identity or appended, an idempotent order-preserving upsert.
func (c *Conversation) Update(rhs *Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ID = rhs.ID
	c.DisplayName = rhs.DisplayName
	c.Description = rhs.Description
	c.IconURL = rhs.IconURL
	c.Type = rhs.Type
	c.IsDefault = rhs.IsDefault
	c.Metadata = rhs.Metadata
	c.LastUpdatedAt = rhs.LastUpdatedAt
	c.BusinessLastRead = rhs.BusinessLastRead
	c.Participants = rhs.Participants

	if len(c.Messages) == 0 || len(rhs.Messages) == 0 {
		c.Messages = rhs.Messages
		return
	}

	anyMatch := false
	for _, in := range rhs.Messages {
		if c.indexOfLocked(in) >= 0 {
			anyMatch = true
			break
		}
	}
	if !anyMatch {
		c.Messages = rhs.Messages
		return
	}

	for _, in := range rhs.Messages {
		if i := c.indexOfLocked(in); i >= 0 {
			c.Messages[i].Update(in)
		} else {
			c.Messages = append(c.Messages, in)
		}
	}
}

func (c *Conversation) indexOfLocked(m *Message) int {
	for i, existing := range c.Messages {
		if existing.Equals(m) {
			return i
		}
	}
	return -1
}

// ContainsMessage reports whether an equal message already exists.
func (c *Conversation) ContainsMessage(m *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOfLocked(m) >= 0
}

// AddMessages appends messages to the conversation.
func (c *Conversation) AddMessages(msgs []*Message) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, msgs...)
}

// UnsentMessages returns the messages still waiting to be sent.
func (c *Conversation) UnsentMessages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var unsent []*Message
	for _, m := range c.Messages {
		if m.Status == MessageStatusUnsent {
			unsent = append(unsent, m)
		}
	}
	return unsent
}

// SortMessagesInPlace orders the message list by Received, nils last.
func (c *Conversation) SortMessagesInPlace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	SortMessages(c.Messages)
}

// MessagesSnapshot returns deep copies of the messages for handing across
// the API boundary.
func (c *Conversation) MessagesSnapshot() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.Clone()
	}
	return out
}

// LastMessage returns the final message of the transcript, or nil.
func (c *Conversation) LastMessage() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// UnreadCount returns the unread count of the participant matching the given
// app user id, or 0 when no such participant exists.
func (c *Conversation) UnreadCount(appUserID string) int {
	if appUserID == "" {
		return 0
	}
	for _, p := range c.Participants {
		if p.AppUserID == appUserID {
			return p.UnreadCount
		}
	}
	return 0
}

// Clone returns a deep copy suitable as an immutable snapshot.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := &Conversation{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Description: c.Description,
		IconURL:     c.IconURL,
		Type:        c.Type,
		IsDefault:   c.IsDefault,
		Metadata:    c.Metadata,
	}
	if c.LastUpdatedAt != nil {
		v := *c.LastUpdatedAt
		out.LastUpdatedAt = &v
	}
	if c.BusinessLastRead != nil {
		v := *c.BusinessLastRead
		out.BusinessLastRead = &v
	}
	out.Participants = CloneParticipants(c.Participants)
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// SortConversations orders a conversation list by LastUpdatedAt descending,
// nils last, the order the conversations screen presents.
func SortConversations(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastUpdatedAt, convs[j].LastUpdatedAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a > *b
	})
}
