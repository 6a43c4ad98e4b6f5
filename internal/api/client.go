// Package api is the REST client for the chat backend. Every call returns the
// decoded payload (when the operation has one), the HTTP status code, and an
// error. Transport failures report status 0; callers branch on the status to
// distinguish retryable outages from terminal rejections.
package api

import (
	"context"

	"github.com/clarabridge/chat-sdk-go/internal/model"
)

// Credentials is the auth material attached to requests. JWT wins when both
// are present.
type Credentials struct {
	JWT          string
	SessionToken string
	AppUserID    string
}

// CredentialsProvider supplies the current credentials per request, so the
// client always reflects the latest login state without being told.
type CredentialsProvider func() Credentials

// SdkUser is the payload returned by login, auth-code and user fetches.
type SdkUser struct {
	AppUser       *model.AppUser        `json:"appUser,omitempty"`
	Settings      *model.UserSettings   `json:"settings,omitempty"`
	Conversations []*model.Conversation `json:"conversations,omitempty"`
	SessionToken  string                `json:"sessionToken,omitempty"`
}

// ConversationResponse wraps a single conversation fetch.
type ConversationResponse struct {
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Messages     []*model.Message    `json:"messages,omitempty"`
}

// ConversationsListResponse wraps the conversation list fetch.
type ConversationsListResponse struct {
	Conversations []*model.Conversation `json:"conversations,omitempty"`
}

// PostMessageResponse is returned by the message post endpoint. The list
// contains the confirmed copy of the posted message plus any synchronous
// replies.
type PostMessageResponse struct {
	Messages []*model.Message `json:"messages,omitempty"`
}

// FileUploadResponse is returned by the upload endpoints. The server creates
// the media message itself; the body only names it.
type FileUploadResponse struct {
	MessageID string `json:"messageId,omitempty"`
}

// UpgradeResponse is returned by the anonymous-to-known user upgrade.
type UpgradeResponse struct {
	AppUser      *model.AppUser `json:"appUser,omitempty"`
	SessionToken string         `json:"sessionToken,omitempty"`
}

// Upload is an outbound file or image payload.
type Upload struct {
	Name      string
	MediaType string
	Data      []byte
}

// Client is the REST surface the orchestrator drives. Calls are blocking and
// honor ctx; the orchestrator runs them on their own goroutines.
type Client interface {
	SetBaseURL(url string)
	SetAppID(appID string)

	GetConfig(ctx context.Context) (*model.AppConfig, int, error)
	CreateUser(ctx context.Context, user *model.AppUser, intent string) (*SdkUser, int, error)
	Login(ctx context.Context, userID, sessionToken, appUserID string) (*SdkUser, int, error)
	Logout(ctx context.Context) (int, error)
	GetAppUser(ctx context.Context, appUserID string) (*SdkUser, int, error)
	UpdateAppUser(ctx context.Context, appUserID string, user *model.AppUser) (int, error)
	ConsumeAuthCode(ctx context.Context, authCode string) (*SdkUser, int, error)
	UpgradeAppUser(ctx context.Context, clientID string) (*UpgradeResponse, int, error)

	CreateConversation(ctx context.Context, appUserID, intent string) (*ConversationResponse, int, error)
	GetConversation(ctx context.Context, conversationID string) (*ConversationResponse, int, error)
	GetConversations(ctx context.Context, appUserID string) (*ConversationsListResponse, int, error)
	Subscribe(ctx context.Context, conversationID string) (*ConversationResponse, int, error)

	PostMessage(ctx context.Context, conversationID string, msg *model.Message) (*PostMessageResponse, int, error)
	UploadImage(ctx context.Context, conversationID string, upload *Upload) (*FileUploadResponse, int, error)
	UploadFile(ctx context.Context, conversationID string, upload *Upload) (*FileUploadResponse, int, error)
	SendConversationActivity(ctx context.Context, conversationID string, ev *model.ConversationEvent) (int, error)
	Postback(ctx context.Context, conversationID string, action *model.MessageAction) (int, error)

	UpdatePushToken(ctx context.Context, appUserID, integrationID, token string) (int, error)
}
