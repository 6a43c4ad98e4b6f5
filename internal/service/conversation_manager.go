package service

import (
	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/internal/storage"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

// ConversationManager maintains the persisted conversation snapshots: the
// per-conversation record and the conversation-list record, which must not
// drift apart. It holds no state of its own; every operation loads, mutates
// and saves through the storage facade.
type ConversationManager struct {
	store storage.Facade
	log   *logger.Logger
}

// NewConversationManager builds a manager over the given store.
func NewConversationManager(store storage.Facade, log *logger.Logger) *ConversationManager {
	return &ConversationManager{store: store, log: log}
}

// IsUpToDate reports whether the persisted per-conversation record agrees
// with its entry in the persisted list, in which case a refetch can be
// skipped. Inconclusive evidence reads as stale, biasing toward a refetch.
//
// List summaries arrive newest-first while full transcripts are oldest-first,
// so the comparison pairs the summary's first message with the transcript's
// last. The first list entry with a matching id decides.
func (cm *ConversationManager) IsUpToDate(conversationID string) bool {
	conv := cm.store.ConversationByID(conversationID)
	if conv == nil {
		return false
	}
	for _, entry := range cm.store.ConversationsList() {
		if entry.ID != conversationID {
			continue
		}
		if len(entry.Messages) == 0 || len(conv.Messages) == 0 {
			return false
		}
		newestInList := entry.Messages[0]
		newestInConv := conv.Messages[len(conv.Messages)-1]
		if !newestInConv.Equals(newestInList) {
			return false
		}
		return model.ParticipantsEqual(conv.Participants, entry.Participants)
	}
	return false
}

// AddMessageToConversation upserts msg into the persisted per-conversation
// record and recomputes timestamps and unread counts. visible marks the
// conversation as currently on screen for the given user.
func (cm *ConversationManager) AddMessageToConversation(conversationID string, msg *model.Message, currentAppUserID string, visible bool) {
	conv := cm.store.ConversationByID(conversationID)
	if conv == nil {
		cm.log.Debug("no persisted conversation for message",
			zap.String("conversation_id", conversationID))
		return
	}
	cm.upsertMessage(conv, msg)
	conv.SortMessagesInPlace()
	cm.updateTimestampsAndUnreadCount(conv, msg, currentAppUserID, visible)
	cm.store.SaveConversationByID(conversationID, conv)
}

// AddMessageToConversationList applies msg to the conversation's list-summary
// entry, keeping the newest message at index 0, and re-sorts the list.
func (cm *ConversationManager) AddMessageToConversationList(conversationID string, msg *model.Message, currentAppUserID string, visible bool) {
	list := cm.store.ConversationsList()
	for _, entry := range list {
		if entry.ID != conversationID {
			continue
		}
		if updated := cm.upsertSummary(entry, msg); !updated {
			entry.Messages = append([]*model.Message{msg.Clone()}, entry.Messages...)
		}
		cm.updateTimestampsAndUnreadCount(entry, msg, currentAppUserID, visible)
		model.SortConversations(list)
		cm.store.SaveConversationsList(list)
		return
	}
}

func (cm *ConversationManager) upsertMessage(conv *model.Conversation, msg *model.Message) {
	conv.Lock()
	defer conv.Unlock()
	for _, existing := range conv.Messages {
		if existing.Equals(msg) {
			existing.Update(msg)
			return
		}
	}
	conv.Messages = append(conv.Messages, msg.Clone())
}

func (cm *ConversationManager) upsertSummary(entry *model.Conversation, msg *model.Message) bool {
	entry.Lock()
	defer entry.Unlock()
	for _, existing := range entry.Messages {
		if existing.Equals(msg) {
			existing.Update(msg)
			return true
		}
	}
	return false
}

// updateTimestampsAndUnreadCount advances the conversation clock to the
// message's timestamp and adjusts per-participant unread state: the author,
// and the current user when the conversation is visible, read the message
// immediately; everyone else accrues one unread.
func (cm *ConversationManager) updateTimestampsAndUnreadCount(conv *model.Conversation, msg *model.Message, currentAppUserID string, visible bool) {
	ts := messageTimestamp(msg)
	if ts != nil {
		v := *ts
		conv.LastUpdatedAt = &v
	}
	for _, p := range conv.Participants {
		authored := p.AppUserID != "" && p.AppUserID == msg.AuthorID
		viewing := visible && p.AppUserID == currentAppUserID
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

// SetParticipantLastRead applies a read receipt for one participant to both
// persisted copies.
func (cm *ConversationManager) SetParticipantLastRead(conversationID, appUserID string, lastRead *float64) {
	if conv := cm.store.ConversationByID(conversationID); conv != nil {
		if applyParticipantLastRead(conv, appUserID, lastRead) {
			cm.store.SaveConversationByID(conversationID, conv)
		}
	}
	list := cm.store.ConversationsList()
	changed := false
	for _, entry := range list {
		if entry.ID == conversationID && applyParticipantLastRead(entry, appUserID, lastRead) {
			changed = true
		}
	}
	if changed {
		cm.store.SaveConversationsList(list)
	}
}

func applyParticipantLastRead(conv *model.Conversation, appUserID string, lastRead *float64) bool {
	for _, p := range conv.Participants {
		if p.AppUserID == appUserID {
			p.UnreadCount = 0
			if lastRead != nil {
				v := *lastRead
				p.LastRead = &v
			}
			return true
		}
	}
	return false
}

// SetBusinessLastRead records the business-side read receipt on both
// persisted copies.
func (cm *ConversationManager) SetBusinessLastRead(conversationID string, lastRead *float64) {
	if lastRead == nil {
		return
	}
	if conv := cm.store.ConversationByID(conversationID); conv != nil {
		v := *lastRead
		conv.BusinessLastRead = &v
		cm.store.SaveConversationByID(conversationID, conv)
	}
	list := cm.store.ConversationsList()
	changed := false
	for _, entry := range list {
		if entry.ID == conversationID {
			v := *lastRead
			entry.BusinessLastRead = &v
			changed = true
		}
	}
	if changed {
		cm.store.SaveConversationsList(list)
	}
}

func messageTimestamp(msg *model.Message) *float64 {
	if msg.Received != nil {
		return msg.Received
	}
	return msg.Created
}
