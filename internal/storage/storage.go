// Package storage provides the durable key/value persistence facade the SDK
// core depends on. All accessors are synchronous; implementations absorb and
// log their own I/O failures so that callers see missing data, not errors.
package storage

import "github.com/clarabridge/chat-sdk-go/internal/model"

// Facade is the persistence contract consumed by the orchestrator and the
// conversation manager. Values are scoped to the integration id set with
// SetIntegrationID; switching integrations switches the namespace.
type Facade interface {
	SetIntegrationID(id string)

	AppID() string
	SaveAppID(id string)

	JWT() string
	SaveJWT(jwt string)

	SessionToken() string
	SaveSessionToken(token string)

	AppUserID() string
	SaveAppUserID(id string)

	AppUserLocal() *model.AppUser
	SaveAppUserLocal(user *model.AppUser)

	AppUserRemote() *model.AppUser
	SaveAppUserRemote(user *model.AppUser)

	// ConversationByID returns the persisted conversation snapshot, or nil.
	// Saving nil deletes the snapshot.
	ConversationByID(id string) *model.Conversation
	SaveConversationByID(id string, conv *model.Conversation)

	ConversationsList() []*model.Conversation
	SaveConversationsList(convs []*model.Conversation)

	UserSettings() *model.UserSettings
	SaveUserSettings(settings *model.UserSettings)

	RetryConfiguration() *model.RetryConfiguration
	SaveRetryConfiguration(cfg *model.RetryConfiguration)
}
