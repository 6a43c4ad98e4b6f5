package storage

import (
	"sync"

	"github.com/clarabridge/chat-sdk-go/internal/model"
)

// Memory is the in-process Facade used by default and in tests. Values are
// deep-copied on the way in and out so callers can never alias stored state.
type Memory struct {
	mu            sync.RWMutex
	integrationID string

	appID        string
	jwt          string
	sessionToken string
	appUserID    string

	appUserLocal  *model.AppUser
	appUserRemote *model.AppUser

	conversations map[string]*model.Conversation
	list          []*model.Conversation

	userSettings *model.UserSettings
	retryConfig  *model.RetryConfiguration
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{conversations: make(map[string]*model.Conversation)}
}

func (m *Memory) SetIntegrationID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.integrationID {
		// New namespace; discard everything from the previous one.
		m.integrationID = id
		m.appID = ""
		m.jwt = ""
		m.sessionToken = ""
		m.appUserID = ""
		m.appUserLocal = nil
		m.appUserRemote = nil
		m.conversations = make(map[string]*model.Conversation)
		m.list = nil
		m.userSettings = nil
		m.retryConfig = nil
	}
}

func (m *Memory) AppID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appID
}

func (m *Memory) SaveAppID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appID = id
}

func (m *Memory) JWT() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jwt
}

func (m *Memory) SaveJWT(jwt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jwt = jwt
}

func (m *Memory) SessionToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionToken
}

func (m *Memory) SaveSessionToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionToken = token
}

func (m *Memory) AppUserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appUserID
}

func (m *Memory) SaveAppUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appUserID = id
}

func (m *Memory) AppUserLocal() *model.AppUser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appUserLocal.Clone()
}

func (m *Memory) SaveAppUserLocal(user *model.AppUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appUserLocal = user.Clone()
}

func (m *Memory) AppUserRemote() *model.AppUser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appUserRemote.Clone()
}

func (m *Memory) SaveAppUserRemote(user *model.AppUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appUserRemote = user.Clone()
}

func (m *Memory) ConversationByID(id string) *model.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conversations[id].Clone()
}

func (m *Memory) SaveConversationByID(id string, conv *model.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv == nil {
		delete(m.conversations, id)
		return
	}
	m.conversations[id] = conv.Clone()
}

func (m *Memory) ConversationsList() []*model.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.list == nil {
		return nil
	}
	out := make([]*model.Conversation, len(m.list))
	for i, c := range m.list {
		out[i] = c.Clone()
	}
	return out
}

func (m *Memory) SaveConversationsList(convs []*model.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if convs == nil {
		m.list = nil
		return
	}
	out := make([]*model.Conversation, len(convs))
	for i, c := range convs {
		out[i] = c.Clone()
	}
	m.list = out
}

func (m *Memory) UserSettings() *model.UserSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.userSettings == nil {
		return nil
	}
	s := *m.userSettings
	return &s
}

func (m *Memory) SaveUserSettings(settings *model.UserSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if settings == nil {
		m.userSettings = nil
		return
	}
	s := *settings
	m.userSettings = &s
}

func (m *Memory) RetryConfiguration() *model.RetryConfiguration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.retryConfig == nil {
		return nil
	}
	c := *m.retryConfig
	return &c
}

func (m *Memory) SaveRetryConfiguration(cfg *model.RetryConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == nil {
		m.retryConfig = nil
		return
	}
	c := *cfg
	m.retryConfig = &c
}

var _ Facade = (*Memory)(nil)
