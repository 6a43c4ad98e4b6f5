package main

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarabridge/chat-sdk-go/internal/model"
)

// store is the sandbox's in-memory state: users and conversations for a
// single app. It exists to exercise the SDK end to end, not to be durable.
type store struct {
	mu            sync.Mutex
	users         map[string]*model.AppUser      // by app user id
	byExternalID  map[string]string              // external id -> app user id
	conversations map[string]*model.Conversation // by conversation id
	byUser        map[string][]string            // app user id -> conversation ids
}

func newStore() *store {
	return &store{
		users:         make(map[string]*model.AppUser),
		byExternalID:  make(map[string]string),
		conversations: make(map[string]*model.Conversation),
		byUser:        make(map[string][]string),
	}
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func (s *store) createUser(profile *model.AppUser) *model.AppUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := profile.Clone()
	if u == nil {
		u = &model.AppUser{}
	}
	u.AppUserID = uuid.New().String()
	signedUp := nowUnix()
	u.SignedUp = &signedUp
	s.users[u.AppUserID] = u
	if u.UserID != "" {
		s.byExternalID[u.UserID] = u.AppUserID
	}
	return u.Clone()
}

func (s *store) userByID(appUserID string) *model.AppUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[appUserID].Clone()
}

// loginUser binds an external id to an existing anonymous user, or finds the
// user already known under that external id.
func (s *store) loginUser(externalID, appUserID string) *model.AppUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if known, ok := s.byExternalID[externalID]; ok {
		return s.users[known].Clone()
	}
	u, ok := s.users[appUserID]
	if !ok {
		u = &model.AppUser{AppUserID: uuid.New().String()}
		s.users[u.AppUserID] = u
	}
	u.UserID = externalID
	s.byExternalID[externalID] = u.AppUserID
	return u.Clone()
}

func (s *store) updateUser(appUserID string, patch *model.AppUser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[appUserID]
	if !ok {
		return false
	}
	u.Merge(patch)
	return true
}

func (s *store) createConversation(appUserID string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowUnix()
	conv := &model.Conversation{
		ID:            uuid.New().String(),
		Type:          "personal",
		IsDefault:     len(s.byUser[appUserID]) == 0,
		LastUpdatedAt: &now,
		Participants: []*model.Participant{
			{ID: uuid.New().String(), AppUserID: appUserID, LastRead: &now},
		},
	}
	s.conversations[conv.ID] = conv
	s.byUser[appUserID] = append(s.byUser[appUserID], conv.ID)
	return conv.Clone()
}

func (s *store) conversationByID(id string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[id].Clone()
}

func (s *store) conversationsForUser(appUserID string) []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Conversation
	for _, id := range s.byUser[appUserID] {
		conv := s.conversations[id]
		summary := conv.Clone()
		// List entries carry the newest message first, as a summary.
		if msgs := summary.Messages; len(msgs) > 0 {
			summary.Messages = []*model.Message{msgs[len(msgs)-1]}
		}
		out = append(out, summary)
	}
	model.SortConversations(out)
	return out
}

// appendMessage stores one message on a conversation and returns the
// confirmed copy.
func (s *store) appendMessage(conversationID string, msg *model.Message) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	confirmed := msg.Clone()
	confirmed.ID = uuid.New().String()
	received := nowUnix()
	confirmed.Received = &received
	conv.Messages = append(conv.Messages, confirmed)
	conv.LastUpdatedAt = &received
	for _, p := range conv.Participants {
		if p.AppUserID == confirmed.AuthorID {
			p.UnreadCount = 0
			p.LastRead = &received
		} else {
			p.UnreadCount++
		}
	}
	return confirmed.Clone()
}

// subscribeConversation registers appUserID as a participant and returns the
// conversation.
func (s *store) subscribeConversation(conversationID, appUserID string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	for _, p := range conv.Participants {
		if p.AppUserID == appUserID {
			return conv.Clone()
		}
	}
	now := nowUnix()
	conv.Participants = append(conv.Participants, &model.Participant{
		ID:        uuid.New().String(),
		AppUserID: appUserID,
		LastRead:  &now,
	})
	s.byUser[appUserID] = append(s.byUser[appUserID], conversationID)
	return conv.Clone()
}

func (s *store) markRead(conversationID, appUserID string) *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	ts := nowUnix()
	for _, p := range conv.Participants {
		if p.AppUserID == appUserID {
			p.UnreadCount = 0
			p.LastRead = &ts
		}
	}
	return &ts
}
