package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/api"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/metrics"
)

const (
	typingThrottle   = 10 * time.Second
	typingStopBuffer = time.Second

	taskKeyTypingAutoStop   = "typing-auto-stop"
	taskKeyTypingStopBuffer = "typing-stop-buffer"
)

// processingUpload is a REST-confirmed upload still waiting for its realtime
// completion event.
type processingUpload struct {
	msg *model.Message
	cb  MessageCallback
}

// SendMessage queues msg for delivery. The message appears in the transcript
// immediately with UNSENT status; the MessageSent observer reports the final
// state.
func (s *ChatService) SendMessage(msg *model.Message) {
	s.dispatcher.Post(func() {
		s.deferOnReady(func() {
			s.prepareOutgoingMessage(msg)
			s.conversation.AddMessages([]*model.Message{msg})
			s.messageQueue = append(s.messageQueue, msg)
			metrics.SendQueueDepth.Set(float64(len(s.messageQueue)))
			s.processMessageQueue()
		})
	})
}

func (s *ChatService) prepareOutgoingMessage(msg *model.Message) {
	created := s.nowUnix()
	msg.Created = &created
	msg.AuthorID = s.store.AppUserID()
	msg.Role = string(model.RoleAppUser)
	msg.Status = model.MessageStatusUnsent
	msg.IsFromCurrentUser = true
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	s.syncAppUserNow()
	s.cancelTyping()
}

func (s *ChatService) nowUnix() float64 {
	return float64(s.now().UnixNano()) / float64(time.Second)
}

// processMessageQueue dispatches the head of the queue unless a POST is
// already in flight. Dispatcher goroutine only.
func (s *ChatService) processMessageQueue() {
	if s.processingMessage || len(s.messageQueue) == 0 {
		return
	}
	if s.conversation.ID == "" {
		s.ensureConversation(s.processMessageQueue)
		return
	}
	s.processingMessage = true
	msg := s.messageQueue[0]
	s.messageQueue = s.messageQueue[1:]
	metrics.SendQueueDepth.Set(float64(len(s.messageQueue)))

	conversationID := s.conversation.ID
	payload := msg.Clone()
	go func() {
		resp, status, err := s.apiClient.PostMessage(context.Background(), conversationID, payload)
		s.dispatcher.Post(func() {
			s.onPostMessageComplete(conversationID, msg, resp, status, err)
		})
	}()
}

func (s *ChatService) onPostMessageComplete(conversationID string, msg *model.Message, resp *api.PostMessageResponse, status int, err error) {
	result := CallResult{StatusCode: status, Err: err}
	if err == nil && resp != nil && len(resp.Messages) > 0 {
		confirmed := resp.Messages[0]
		msg.Update(confirmed)
		msg.Status = model.MessageStatusSent
		msg.IsFromCurrentUser = true
		metrics.RecordSend("sent")
		// Synchronous replies ride along on the POST response.
		for _, reply := range resp.Messages[1:] {
			s.handleIncomingMessage(conversationID, reply)
		}
	} else {
		msg.Status = model.MessageStatusSendingFailed
		metrics.RecordSend("failed")
		s.log.Warn("message send failed",
			zap.String("conversation_id", conversationID),
			zap.Int("status", status),
			zap.Error(err))
	}

	appUserID := s.store.AppUserID()
	s.manager.AddMessageToConversation(conversationID, msg, appUserID, s.conversationVisible)
	s.manager.AddMessageToConversationList(conversationID, msg, appUserID, s.conversationVisible)

	if s.observer.MessageSent != nil {
		s.observer.MessageSent(msg.Clone(), result)
	}
	s.processingMessage = false
	s.processMessageQueue()
}

// ensureConversation creates the server-side conversation lazily on the
// first outbound message, then resumes cont. A create failure fails every
// queued message rather than stalling the pipeline.
func (s *ChatService) ensureConversation(cont func()) {
	if s.creatingConversation {
		return
	}
	s.creatingConversation = true
	appUserID := s.store.AppUserID()
	go func() {
		resp, status, err := s.apiClient.CreateConversation(context.Background(), appUserID, "message")
		s.dispatcher.Post(func() {
			s.creatingConversation = false
			if err != nil {
				s.log.Warn("lazy conversation create failed",
					zap.Int("status", status),
					zap.Error(err))
				s.failQueuedMessages(CallResult{StatusCode: status, Err: err})
				return
			}
			s.adoptFetchedConversation(&api.ConversationResponse{
				Conversation: resp.Conversation,
				Messages:     resp.Messages,
			})
			cont()
		})
	}()
}

func (s *ChatService) failQueuedMessages(result CallResult) {
	queued := s.messageQueue
	s.messageQueue = nil
	metrics.SendQueueDepth.Set(0)
	for _, msg := range queued {
		msg.Status = model.MessageStatusSendingFailed
		metrics.RecordSend("failed")
		if s.observer.MessageSent != nil {
			s.observer.MessageSent(msg.Clone(), result)
		}
	}
}

// UploadImage sends an image message. The upload completes through either
// the REST response or the realtime channel, whichever lands second.
func (s *ChatService) UploadImage(msg *model.Message, upload *api.Upload, cb MessageCallback) {
	s.enqueueUpload(model.MessageTypeImage, msg, upload, cb)
}

// UploadFile sends a file message.
func (s *ChatService) UploadFile(msg *model.Message, upload *api.Upload, cb MessageCallback) {
	s.enqueueUpload(model.MessageTypeFile, msg, upload, cb)
}

func (s *ChatService) enqueueUpload(kind model.MessageType, msg *model.Message, upload *api.Upload, cb MessageCallback) {
	s.dispatcher.Post(func() {
		s.deferOnReady(func() {
			msg.Type = kind
			s.prepareOutgoingMessage(msg)
			if upload != nil {
				msg.MediaType = upload.MediaType
				msg.MediaSize = int64(len(upload.Data))
			}
			s.conversation.AddMessages([]*model.Message{msg})
			if s.conversation.ID == "" {
				s.ensureConversation(func() { s.startUpload(kind, msg, upload, cb) })
				return
			}
			s.startUpload(kind, msg, upload, cb)
		})
	})
}

// startUpload issues the REST call off-dispatcher and reconciles its result
// against whatever the realtime channel may already have delivered for the
// same message id.
func (s *ChatService) startUpload(kind model.MessageType, msg *model.Message, upload *api.Upload, cb MessageCallback) {
	conversationID := s.conversation.ID
	go func() {
		var resp *api.FileUploadResponse
		var status int
		var err error
		if kind == model.MessageTypeImage {
			resp, status, err = s.apiClient.UploadImage(context.Background(), conversationID, upload)
		} else {
			resp, status, err = s.apiClient.UploadFile(context.Background(), conversationID, upload)
		}
		if err != nil || resp == nil || resp.MessageID == "" {
			s.dispatcher.Post(func() {
				s.resolveUploadFailure(msg, cb, CallResult{StatusCode: status, Err: err}, "rest")
			})
			return
		}

		messageID := resp.MessageID
		lock := s.lockForMessage(messageID)
		lock.Lock()
		defer lock.Unlock()

		s.upMu.Lock()
		if confirmed, ok := s.pendingUploads[messageID]; ok {
			delete(s.pendingUploads, messageID)
			s.upMu.Unlock()
			s.dispatcher.Post(func() {
				s.resolveUploadSuccess(msg, confirmed, cb, "event-first")
			})
			return
		}
		if errorCode, ok := s.rejectedUploads[messageID]; ok {
			delete(s.rejectedUploads, messageID)
			s.upMu.Unlock()
			s.dispatcher.Post(func() {
				s.resolveUploadFailure(msg, cb, CallResult{StatusCode: status, Err: fmt.Errorf("upload rejected: %s", errorCode)}, "rejection")
			})
			return
		}
		s.processingUploads[messageID] = &processingUpload{msg: msg, cb: cb}
		s.upMu.Unlock()
	}()
}

// lockForMessage returns the lock serializing REST and realtime resolution
// for one message id.
func (s *ChatService) lockForMessage(messageID string) *sync.Mutex {
	s.upMu.Lock()
	defer s.upMu.Unlock()
	if l, ok := s.messageLocks[messageID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.messageLocks[messageID] = l
	return l
}

// onUploadEvent handles a realtime upload-complete for a message id. Called
// from the monitor goroutine.
func (s *ChatService) onUploadEvent(serverMsg *model.Message) {
	messageID := serverMsg.ID
	if messageID == "" {
		return
	}
	lock := s.lockForMessage(messageID)
	lock.Lock()
	defer lock.Unlock()

	s.upMu.Lock()
	if proc, ok := s.processingUploads[messageID]; ok {
		delete(s.processingUploads, messageID)
		s.upMu.Unlock()
		s.dispatcher.Post(func() {
			s.resolveUploadSuccess(proc.msg, serverMsg, proc.cb, "realtime")
		})
		return
	}
	s.pendingUploads[messageID] = serverMsg
	s.upMu.Unlock()
}

// onRejectionEvent handles a realtime rejection for a message id. Called
// from the monitor goroutine.
func (s *ChatService) onRejectionEvent(messageID, errorCode string) {
	if messageID == "" {
		return
	}
	lock := s.lockForMessage(messageID)
	lock.Lock()
	defer lock.Unlock()

	s.upMu.Lock()
	if proc, ok := s.processingUploads[messageID]; ok {
		delete(s.processingUploads, messageID)
		s.upMu.Unlock()
		s.dispatcher.Post(func() {
			s.resolveUploadFailure(proc.msg, proc.cb, CallResult{Err: fmt.Errorf("upload rejected: %s", errorCode)}, "rejection")
		})
		return
	}
	s.rejectedUploads[messageID] = errorCode
	s.upMu.Unlock()
}

// resolveUploadSuccess finalizes an upload exactly once. Dispatcher
// goroutine only.
func (s *ChatService) resolveUploadSuccess(localMsg, serverMsg *model.Message, cb MessageCallback, source string) {
	localMsg.Update(serverMsg)
	localMsg.Status = model.MessageStatusSent
	localMsg.IsFromCurrentUser = true
	metrics.RecordUpload("success", source)

	appUserID := s.store.AppUserID()
	if s.conversation.ID != "" {
		s.manager.AddMessageToConversation(s.conversation.ID, localMsg, appUserID, s.conversationVisible)
		s.manager.AddMessageToConversationList(s.conversation.ID, localMsg, appUserID, s.conversationVisible)
	}
	if cb != nil {
		cb(localMsg.Clone(), CallResult{StatusCode: 200})
	}
	if s.observer.MessageSent != nil {
		s.observer.MessageSent(localMsg.Clone(), CallResult{StatusCode: 200})
	}
}

func (s *ChatService) resolveUploadFailure(localMsg *model.Message, cb MessageCallback, result CallResult, source string) {
	localMsg.Status = model.MessageStatusSendingFailed
	metrics.RecordUpload("failure", source)
	if cb != nil {
		cb(localMsg.Clone(), result)
	}
	if s.observer.MessageSent != nil {
		s.observer.MessageSent(localMsg.Clone(), result)
	}
}

// cleanProcessingUploads reconciles in-flight uploads against a freshly
// fetched transcript: entries the transcript confirms resolve as success,
// the rest are deemed lost and resolve as failure. Dispatcher goroutine.
func (s *ChatService) cleanProcessingUploads() {
	s.upMu.Lock()
	if len(s.processingUploads) == 0 {
		s.upMu.Unlock()
		return
	}
	inflight := s.processingUploads
	s.processingUploads = make(map[string]*processingUpload)
	s.upMu.Unlock()

	byID := make(map[string]*model.Message)
	for _, m := range s.conversation.MessagesSnapshot() {
		if m.ID != "" {
			byID[m.ID] = m
		}
	}
	for id, proc := range inflight {
		if confirmed, ok := byID[id]; ok {
			s.resolveUploadSuccess(proc.msg, confirmed, proc.cb, "refresh")
		} else {
			s.resolveUploadFailure(proc.msg, proc.cb, CallResult{Err: fmt.Errorf("upload confirmation lost")}, "refresh")
		}
	}
}

// StartTyping emits a typing:start activity, throttled to one per ten
// seconds, and arms the auto-stop timer.
func (s *ChatService) StartTyping() {
	s.dispatcher.Post(func() {
		if !s.typingEnabled() || s.conversation.ID == "" {
			return
		}
		// A buffered stop loses to a fresh start.
		s.dispatcher.Cancel(taskKeyTypingStopBuffer)
		if s.lastTypingStart.IsZero() || s.now().Sub(s.lastTypingStart) >= typingThrottle {
			s.lastTypingStart = s.now()
			s.sendActivity(model.EventTypingStart)
			metrics.TypingActivitiesTotal.WithLabelValues("start", "sent").Inc()
		} else {
			metrics.TypingActivitiesTotal.WithLabelValues("start", "suppressed").Inc()
		}
		s.dispatcher.PostDelayed(taskKeyTypingAutoStop, typingThrottle, s.performStopTyping)
	})
}

// StopTyping requests a typing:stop, buffered briefly so a rapid restart of
// typing cancels it before anything hits the network.
func (s *ChatService) StopTyping() {
	s.dispatcher.Post(func() {
		if s.lastTypingStart.IsZero() {
			return
		}
		s.dispatcher.PostDelayed(taskKeyTypingStopBuffer, typingStopBuffer, s.performStopTyping)
	})
}

func (s *ChatService) performStopTyping() {
	if s.lastTypingStart.IsZero() {
		return
	}
	s.cancelTyping()
	s.sendActivity(model.EventTypingStop)
	metrics.TypingActivitiesTotal.WithLabelValues("stop", "sent").Inc()
}

// cancelTyping drops typing timers without emitting anything; sending a
// message implies the typing burst is over.
func (s *ChatService) cancelTyping() {
	s.dispatcher.Cancel(taskKeyTypingAutoStop)
	s.dispatcher.Cancel(taskKeyTypingStopBuffer)
	s.lastTypingStart = time.Time{}
}

func (s *ChatService) typingEnabled() bool {
	settings := s.store.UserSettings()
	return settings == nil || settings.Typing == nil || settings.Typing.Enabled
}

func (s *ChatService) sendActivity(eventType model.ConversationEventType) {
	ev := &model.ConversationEvent{
		ConversationID: s.conversation.ID,
		Type:           eventType,
		Role:           model.RoleAppUser,
		AppUserID:      s.store.AppUserID(),
	}
	conversationID := s.conversation.ID
	go func() {
		if status, err := s.apiClient.SendConversationActivity(context.Background(), conversationID, ev); err != nil {
			s.log.Debug("activity send failed",
				zap.String("type", string(eventType)),
				zap.Int("status", status),
				zap.Error(err))
		}
	}()
}

// MarkAllAsRead marks the transcript read and announces the read receipt.
func (s *ChatService) MarkAllAsRead() {
	s.dispatcher.Post(s.markAllAsReadLocked)
}

// markAllAsReadLocked performs the read sweep. Dispatcher goroutine only.
func (s *ChatService) markAllAsReadLocked() {
	if s.conversation.ID == "" {
		return
	}
	appUserID := s.store.AppUserID()

	changed := false
	s.conversation.Lock()
	for _, m := range s.conversation.Messages {
		if m.Status == model.MessageStatusUnread || m.Status == model.MessageStatusNotificationShown {
			m.Status = model.MessageStatusRead
			changed = true
		}
	}
	s.conversation.Unlock()

	if !changed && s.conversation.UnreadCount(appUserID) == 0 {
		return
	}

	ts := s.nowUnix()
	applyParticipantLastRead(s.conversation, appUserID, &ts)
	s.manager.SetParticipantLastRead(s.conversation.ID, appUserID, &ts)
	s.sendActivity(model.EventConversationRead)
	s.notifyForUnread()
}

// Postback fires an interactive action's payload at the backend.
func (s *ChatService) Postback(action *model.MessageAction, cb ResultCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitSuccess(func() {
			if s.conversation.ID == "" {
				if cb != nil {
					cb(CallResult{Err: fmt.Errorf("no conversation loaded")})
				}
				return
			}
			conversationID := s.conversation.ID
			go func() {
				status, err := s.apiClient.Postback(context.Background(), conversationID, action)
				s.dispatcher.Post(func() {
					if cb != nil {
						cb(CallResult{StatusCode: status, Err: err})
					}
				})
			}()
		})
	})
}

// refreshConversation fetches conversationID and makes it current.
func (s *ChatService) refreshConversation(conversationID string, cb ConversationCallback) {
	go func() {
		resp, status, err := s.apiClient.GetConversation(context.Background(), conversationID)
		s.dispatcher.Post(func() {
			if err != nil {
				s.invokeConversationCallback(cb, nil, CallResult{StatusCode: status, Err: err})
				return
			}
			s.adoptFetchedConversation(resp)
			s.invokeConversationCallback(cb, s.conversation.Clone(), CallResult{StatusCode: status})
		})
	}()
}

// subscribeConversation joins the current user to conversationID and adopts
// the returned transcript as the current conversation.
func (s *ChatService) subscribeConversation(conversationID string, cb ConversationCallback) {
	go func() {
		resp, status, err := s.apiClient.Subscribe(context.Background(), conversationID)
		s.dispatcher.Post(func() {
			if err != nil {
				s.invokeConversationCallback(cb, nil, CallResult{StatusCode: status, Err: err})
				return
			}
			s.adoptFetchedConversation(resp)
			s.invokeConversationCallback(cb, s.conversation.Clone(), CallResult{StatusCode: status})
		})
	}()
}

// fetchConversation fetches conversationID without switching the current
// conversation, unless it already is the current one.
func (s *ChatService) fetchConversation(conversationID string, cb ConversationCallback) {
	go func() {
		resp, status, err := s.apiClient.GetConversation(context.Background(), conversationID)
		s.dispatcher.Post(func() {
			if err != nil {
				s.invokeConversationCallback(cb, nil, CallResult{StatusCode: status, Err: err})
				return
			}
			if resp.Conversation != nil && resp.Conversation.ID == s.conversation.ID {
				s.adoptFetchedConversation(resp)
				s.invokeConversationCallback(cb, s.conversation.Clone(), CallResult{StatusCode: status})
				return
			}
			conv := resp.Conversation
			if conv != nil {
				if len(resp.Messages) > 0 {
					conv.Messages = resp.Messages
				}
				s.prepareIncomingMessages(conv.Messages)
				conv.SortMessagesInPlace()
				s.store.SaveConversationByID(conversationID, conv)
			}
			s.invokeConversationCallback(cb, conv, CallResult{StatusCode: status})
		})
	}()
}

// adoptFetchedConversation merges a fetched transcript into the
// authoritative conversation. Unsent local messages survive the refresh, and
// in-flight uploads are reconciled against the new transcript.
func (s *ChatService) adoptFetchedConversation(resp *api.ConversationResponse) {
	in := resp.Conversation
	if in == nil {
		return
	}
	if len(resp.Messages) > 0 {
		in.Messages = resp.Messages
	}
	s.prepareIncomingMessages(in.Messages)

	unsent := s.conversation.UnsentMessages()
	s.conversation.Update(in)
	for _, m := range unsent {
		if !s.conversation.ContainsMessage(m) {
			s.conversation.AddMessages([]*model.Message{m})
		}
	}
	s.conversation.SortMessagesInPlace()

	if s.conversation.ID != "" {
		s.store.SaveConversationByID(s.conversation.ID, s.conversation)
	}
	s.cleanProcessingUploads()
	if s.observer.MessagesReset != nil {
		s.observer.MessagesReset(s.conversation.ID, s.conversation.MessagesSnapshot())
	}
	s.notifyForUnread()
}

// prepareIncomingMessages derives the local-only message fields the wire
// never carries.
func (s *ChatService) prepareIncomingMessages(msgs []*model.Message) {
	appUserID := s.store.AppUserID()
	for _, m := range msgs {
		m.IsFromCurrentUser = appUserID != "" && m.AuthorID == appUserID
		if m.Status == "" {
			if m.IsFromCurrentUser {
				m.Status = model.MessageStatusSent
			} else {
				m.Status = model.MessageStatusRead
			}
		}
	}
}

// refreshConversationList refetches the list and announces it.
func (s *ChatService) refreshConversationList(cb ConversationsCallback) {
	appUserID := s.store.AppUserID()
	go func() {
		resp, status, err := s.apiClient.GetConversations(context.Background(), appUserID)
		s.dispatcher.Post(func() {
			if err != nil {
				if cb != nil {
					cb(nil, CallResult{StatusCode: status, Err: err})
				}
				return
			}
			list := resp.Conversations
			model.SortConversations(list)
			s.store.SaveConversationsList(list)
			if s.observer.ConversationsListUpdated != nil {
				s.observer.ConversationsListUpdated(list)
			}
			if cb != nil {
				cb(list, CallResult{StatusCode: status})
			}
		})
	}()
}

// notifyForUnread recomputes the unread count and announces it when it
// changed. The guard lock keeps announcements ordered even when a refresh
// and a realtime append resolve close together.
func (s *ChatService) notifyForUnread() {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	count := s.conversation.UnreadCount(s.store.AppUserID())
	if count == s.lastUnreadCount {
		return
	}
	s.lastUnreadCount = count
	if s.observer.UnreadCountChanged != nil {
		s.observer.UnreadCountChanged(s.conversation.ID, count)
	}
}
