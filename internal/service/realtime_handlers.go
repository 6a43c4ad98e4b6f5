package service

import (
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/internal/realtime"
)

// ChatService is the monitor's delegate; these entry points are invoked on
// the monitor goroutine and marshal onto the dispatcher before touching
// state, except the upload maps which carry their own locks.

func (s *ChatService) OnMessageReceived(conversationID string, msg *model.Message) {
	s.dispatcher.Post(func() {
		s.handleIncomingMessage(conversationID, msg)
	})
}

func (s *ChatService) OnMessageRejected(conversationID, messageID, errorCode string) {
	s.onRejectionEvent(messageID, errorCode)
}

func (s *ChatService) OnUploadComplete(conversationID string, msg *model.Message) {
	s.onUploadEvent(msg)
}

func (s *ChatService) OnConversationActivityReceived(ev *model.ConversationEvent) {
	s.dispatcher.Post(func() {
		s.handleActivity(ev)
	})
}

func (s *ChatService) OnMonitorConnected() {
	s.dispatcher.Post(func() {
		s.refreshConversationList(nil)
		if s.conversation.ID != "" {
			s.refreshConversation(s.conversation.ID, nil)
		}
		s.releaseQueue(&s.onReady)
	})
}

func (s *ChatService) OnMonitorDisconnected() {
	s.dispatcher.Post(func() {
		s.log.Debug("realtime channel down")
	})
}

// handleIncomingMessage reconciles one pushed message. Dispatcher goroutine
// only.
func (s *ChatService) handleIncomingMessage(conversationID string, msg *model.Message) {
	appUserID := s.store.AppUserID()
	msg.IsFromCurrentUser = appUserID != "" && msg.AuthorID == appUserID

	if conversationID != s.conversation.ID {
		// Not the loaded conversation: keep the persisted copies moving
		// and let the host know about the list change.
		s.manager.AddMessageToConversation(conversationID, msg, appUserID, false)
		s.manager.AddMessageToConversationList(conversationID, msg, appUserID, false)
		if !msg.IsFromCurrentUser && s.notificationHandler != nil {
			s.notificationHandler(conversationID, msg.Clone())
		}
		if s.observer.ConversationsListUpdated != nil {
			s.observer.ConversationsListUpdated(s.store.ConversationsList())
		}
		return
	}

	if existing := s.matchExistingMessage(msg); existing != nil {
		existing.Update(msg)
		existing.Status = model.MessageStatusSent
		existing.IsFromCurrentUser = msg.IsFromCurrentUser
		s.persistAndAnnounce(conversationID, existing, appUserID)
		return
	}

	if s.conversationVisible {
		msg.Status = model.MessageStatusRead
		s.sendActivity(model.EventConversationRead)
	} else if msg.IsFromCurrentUser {
		msg.Status = model.MessageStatusSent
	} else {
		msg.Status = model.MessageStatusUnread
		if s.notificationHandler != nil {
			s.notificationHandler(conversationID, msg.Clone())
			msg.Status = model.MessageStatusNotificationShown
		}
	}
	s.conversation.AddMessages([]*model.Message{msg})
	s.conversation.SortMessagesInPlace()
	s.persistAndAnnounce(conversationID, msg, appUserID)
}

// matchExistingMessage finds a transcript message the incoming one is a
// duplicate of: the identity rule first, then the text fallback that catches
// a local echo which has no id and whose created timestamp the server
// rewrote.
func (s *ChatService) matchExistingMessage(msg *model.Message) *model.Message {
	s.conversation.Lock()
	defer s.conversation.Unlock()
	for _, existing := range s.conversation.Messages {
		if existing.Equals(msg) {
			return existing
		}
	}
	if !msg.IsFromCurrentUser || msg.Text == "" {
		return nil
	}
	for _, existing := range s.conversation.Messages {
		if existing.ID == "" && existing.IsFromCurrentUser && existing.Text == msg.Text {
			return existing
		}
	}
	return nil
}

func (s *ChatService) persistAndAnnounce(conversationID string, msg *model.Message, appUserID string) {
	s.manager.AddMessageToConversation(conversationID, msg, appUserID, s.conversationVisible)
	s.manager.AddMessageToConversationList(conversationID, msg, appUserID, s.conversationVisible)
	if !msg.IsFromCurrentUser {
		s.applyUnreadToConversation(msg)
	}
	if s.observer.MessagesReceived != nil {
		s.observer.MessagesReceived(conversationID, []*model.Message{msg.Clone()})
	}
	s.notifyForUnread()
}

// applyUnreadToConversation mirrors the manager's unread bookkeeping onto
// the in-memory authoritative conversation.
func (s *ChatService) applyUnreadToConversation(msg *model.Message) {
	ts := messageTimestamp(msg)
	if ts != nil {
		v := *ts
		s.conversation.LastUpdatedAt = &v
	}
	currentID := s.store.AppUserID()
	for _, p := range s.conversation.Participants {
		authored := p.AppUserID != "" && p.AppUserID == msg.AuthorID
		viewing := s.conversationVisible && p.AppUserID == currentID
		if authored || viewing {
			p.UnreadCount = 0
			if ts != nil {
				v := *ts
				p.LastRead = &v
			}
		} else {
			p.UnreadCount++
		}
	}
}

// handleActivity dispatches a realtime conversation event. Dispatcher
// goroutine only.
func (s *ChatService) handleActivity(ev *model.ConversationEvent) {
	switch ev.Type {
	case model.EventConversationRead:
		if ev.Role == model.RoleBusiness {
			s.manager.SetBusinessLastRead(ev.ConversationID, ev.LastRead)
			if ev.ConversationID == s.conversation.ID && ev.LastRead != nil {
				v := *ev.LastRead
				s.conversation.BusinessLastRead = &v
			}
		} else {
			s.manager.SetParticipantLastRead(ev.ConversationID, ev.AppUserID, ev.LastRead)
			if ev.ConversationID == s.conversation.ID {
				applyParticipantLastRead(s.conversation, ev.AppUserID, ev.LastRead)
				s.notifyForUnread()
			}
		}
	case model.EventConversationAdded, model.EventConversationRemoved:
		s.refreshConversationList(nil)
	}
	if s.observer.ConversationEventReceived != nil {
		s.observer.ConversationEventReceived(ev)
	}
}

var _ realtime.Delegate = (*ChatService)(nil)
