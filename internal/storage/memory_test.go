package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarabridge/chat-sdk-go/internal/model"
)

func ts(v float64) *float64 { return &v }

func TestMemoryRoundTrips(t *testing.T) {
	m := NewMemory()
	m.SetIntegrationID("int-1")

	m.SaveAppID("app-1")
	m.SaveJWT("jwt-1")
	m.SaveSessionToken("sess-1")
	m.SaveAppUserID("user-1")

	assert.Equal(t, "app-1", m.AppID())
	assert.Equal(t, "jwt-1", m.JWT())
	assert.Equal(t, "sess-1", m.SessionToken())
	assert.Equal(t, "user-1", m.AppUserID())

	m.SaveAppUserLocal(&model.AppUser{AppUserID: "user-1", FirstName: "Ada"})
	got := m.AppUserLocal()
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.FirstName)

	m.SaveRetryConfiguration(&model.RetryConfiguration{BackoffMultiplier: 2, MaxRetries: 5})
	cfg := m.RetryConfiguration()
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestMemoryMissingValues(t *testing.T) {
	m := NewMemory()
	assert.Nil(t, m.AppUserLocal())
	assert.Nil(t, m.AppUserRemote())
	assert.Nil(t, m.ConversationByID("nope"))
	assert.Nil(t, m.ConversationsList())
	assert.Nil(t, m.UserSettings())
	assert.Nil(t, m.RetryConfiguration())
}

func TestMemoryConversationSnapshotIsolation(t *testing.T) {
	m := NewMemory()
	conv := &model.Conversation{ID: "c1", Messages: []*model.Message{{ID: "m1", Received: ts(1)}}}
	m.SaveConversationByID("c1", conv)

	// Mutations after save, and on the returned copy, never leak through.
	conv.Messages[0].Text = "mutated"
	got := m.ConversationByID("c1")
	require.NotNil(t, got)
	assert.Empty(t, got.Messages[0].Text)

	got.Messages[0].Text = "also mutated"
	again := m.ConversationByID("c1")
	assert.Empty(t, again.Messages[0].Text)
}

func TestMemorySaveNilDeletes(t *testing.T) {
	m := NewMemory()
	m.SaveConversationByID("c1", &model.Conversation{ID: "c1"})
	require.NotNil(t, m.ConversationByID("c1"))

	m.SaveConversationByID("c1", nil)
	assert.Nil(t, m.ConversationByID("c1"))

	m.SaveConversationsList([]*model.Conversation{{ID: "c1"}})
	m.SaveConversationsList(nil)
	assert.Nil(t, m.ConversationsList())
}

func TestMemorySwitchingIntegrationWipesNamespace(t *testing.T) {
	m := NewMemory()
	m.SetIntegrationID("int-1")
	m.SaveJWT("jwt-1")
	m.SaveConversationByID("c1", &model.Conversation{ID: "c1"})

	m.SetIntegrationID("int-1")
	assert.Equal(t, "jwt-1", m.JWT(), "re-setting the same id keeps state")

	m.SetIntegrationID("int-2")
	assert.Empty(t, m.JWT())
	assert.Nil(t, m.ConversationByID("c1"))
}
