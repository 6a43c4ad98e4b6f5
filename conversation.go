package chatsdk

import "github.com/clarabridge/chat-sdk-go/internal/service"

// Conversation proxies the orchestrator's current conversation. All reads
// return snapshots; all writes route through the orchestrator.
type Conversation struct {
	svc *service.ChatService
}

// ID returns the current conversation id, empty until the conversation has
// been created server-side.
func (c *Conversation) ID() string {
	return c.svc.ConversationSnapshot().ID
}

// Messages returns a snapshot of the transcript. Mutating the returned
// messages has no effect on SDK state.
func (c *Conversation) Messages() []*Message {
	return c.svc.ConversationSnapshot().MessagesSnapshot()
}

// UnreadCount returns the current user's unread count.
func (c *Conversation) UnreadCount() int {
	snap := c.svc.ConversationSnapshot()
	return snap.UnreadCount(c.svc.CurrentUserID())
}

// SendMessage queues a message for delivery. Progress is reported through
// the delegate's OnMessageSent.
func (c *Conversation) SendMessage(msg *Message) {
	c.svc.SendMessage(msg)
}

// SendText is a convenience for plain text messages.
func (c *Conversation) SendText(text string) {
	c.svc.SendMessage(&Message{Text: text})
}

// UploadImage sends an image attachment.
func (c *Conversation) UploadImage(msg *Message, upload *Upload, cb func(msg *Message, result CallResult)) {
	c.svc.UploadImage(msg, upload, service.MessageCallback(cb))
}

// UploadFile sends a file attachment.
func (c *Conversation) UploadFile(msg *Message, upload *Upload, cb func(msg *Message, result CallResult)) {
	c.svc.UploadFile(msg, upload, service.MessageCallback(cb))
}

// StartTyping announces that the user is composing. Throttled internally.
func (c *Conversation) StartTyping() {
	c.svc.StartTyping()
}

// StopTyping announces the user stopped composing. Briefly buffered so a
// quick resume cancels it.
func (c *Conversation) StopTyping() {
	c.svc.StopTyping()
}

// MarkAllAsRead marks the transcript read and emits a read receipt.
func (c *Conversation) MarkAllAsRead() {
	c.svc.MarkAllAsRead()
}

// Postback fires an interactive action at the backend.
func (c *Conversation) Postback(action *MessageAction, cb func(result CallResult)) {
	c.svc.Postback(action, service.ResultCallback(cb))
}

// SetShown tells the SDK whether the conversation UI is on screen. Visible
// conversations do not accrue unread counts and are marked read on entry.
func (c *Conversation) SetShown(shown bool) {
	c.svc.SetConversationVisible(shown)
}
