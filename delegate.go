package chatsdk

import "github.com/clarabridge/chat-sdk-go/internal/service"

// Delegate is the capability record of optional host-app callbacks. Set only
// the fields you care about; nil fields are skipped. Callbacks run on the
// SDK's serial dispatcher goroutine, in order, never reentrant with the call
// that triggered them. Do not block in them.
type Delegate struct {
	OnMessagesReceived            func(conversationID string, msgs []*Message)
	OnMessagesReset               func(conversationID string, msgs []*Message)
	OnUnreadCountChanged          func(conversationID string, count int)
	OnMessageSent                 func(msg *Message, result CallResult)
	OnConversationEventReceived   func(ev *ConversationEvent)
	OnInitializationStatusChanged func(status InitializationStatus)
	OnLoginComplete               func(result CallResult)
	OnLogoutComplete              func(result CallResult)
	OnConversationsListUpdated    func(convs []*ConversationData)
	OnConnectionStatusChanged     func(status ConnectionStatus)
}

// observer adapts the mutable delegate into the orchestrator's observer
// record. Each hook re-reads the delegate so SetDelegate takes effect
// without reconstructing the service.
func (c *Client) observer() service.Observer {
	return service.Observer{
		MessagesReceived: func(conversationID string, msgs []*Message) {
			if d := c.currentDelegate(); d != nil && d.OnMessagesReceived != nil {
				d.OnMessagesReceived(conversationID, msgs)
			}
		},
		MessagesReset: func(conversationID string, msgs []*Message) {
			if d := c.currentDelegate(); d != nil && d.OnMessagesReset != nil {
				d.OnMessagesReset(conversationID, msgs)
			}
		},
		UnreadCountChanged: func(conversationID string, count int) {
			if d := c.currentDelegate(); d != nil && d.OnUnreadCountChanged != nil {
				d.OnUnreadCountChanged(conversationID, count)
			}
		},
		MessageSent: func(msg *Message, result CallResult) {
			if d := c.currentDelegate(); d != nil && d.OnMessageSent != nil {
				d.OnMessageSent(msg, result)
			}
		},
		ConversationEventReceived: func(ev *ConversationEvent) {
			if d := c.currentDelegate(); d != nil && d.OnConversationEventReceived != nil {
				d.OnConversationEventReceived(ev)
			}
		},
		InitStatusChanged: func(status InitializationStatus) {
			if d := c.currentDelegate(); d != nil && d.OnInitializationStatusChanged != nil {
				d.OnInitializationStatusChanged(status)
			}
		},
		LoginComplete: func(result CallResult) {
			if d := c.currentDelegate(); d != nil && d.OnLoginComplete != nil {
				d.OnLoginComplete(result)
			}
		},
		LogoutComplete: func(result CallResult) {
			if d := c.currentDelegate(); d != nil && d.OnLogoutComplete != nil {
				d.OnLogoutComplete(result)
			}
		},
		ConversationsListUpdated: func(convs []*ConversationData) {
			if d := c.currentDelegate(); d != nil && d.OnConversationsListUpdated != nil {
				d.OnConversationsListUpdated(convs)
			}
		},
		ConnectionStatusChanged: func(status ConnectionStatus) {
			if d := c.currentDelegate(); d != nil && d.OnConnectionStatusChanged != nil {
				d.OnConnectionStatusChanged(status)
			}
		},
	}
}
