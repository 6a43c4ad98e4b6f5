// Package chatsdk is the embedding-facing surface of the ClarabridgeChat Go
// SDK. A Client wraps the orchestrator; Conversation and User are thin
// proxies over its state. Construct exactly one Client per integration and
// pass it to whatever needs it; there is no global instance.
package chatsdk

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/clarabridge/chat-sdk-go/internal/api"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/internal/service"
	"github.com/clarabridge/chat-sdk-go/internal/storage"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

// Re-exported types so host applications never import internal packages.
type (
	Message           = model.Message
	MessageAction     = model.MessageAction
	MessageItem       = model.MessageItem
	Participant       = model.Participant
	ConversationEvent = model.ConversationEvent
	ConversationData  = model.Conversation
	Upload            = api.Upload

	InitializationStatus = service.InitializationStatus
	ConnectionStatus     = service.ConnectionStatus
	CallResult           = service.CallResult
)

const (
	InitUnknown   = service.InitUnknown
	InitSuccess   = service.InitSuccess
	InitError     = service.InitError
	InitInvalidID = service.InitInvalidID

	ConnectionUnknown      = service.ConnectionUnknown
	ConnectionConnected    = service.ConnectionConnected
	ConnectionDisconnected = service.ConnectionDisconnected
)

const defaultBaseURL = "https://api.clarabridgechat.com"

// Settings configures a Client.
type Settings struct {
	// IntegrationID identifies the integration; required.
	IntegrationID string
	// AuthCode performs a one-time upgrade from an anonymous identity
	// during initialization.
	AuthCode string
	// LegacyClientID migrates a device-scoped legacy identity, when set.
	LegacyClientID string
	// BaseURL overrides the bootstrap endpoint; the remote config may
	// redirect requests elsewhere afterwards.
	BaseURL string
	// Debug relaxes the localhost base-URL validation.
	Debug bool
}

// Option customizes Client construction.
type Option func(*options)

type options struct {
	log                 *logger.Logger
	store               storage.Facade
	apiClient           api.Client
	monitorFactory      service.MonitorFactory
	notificationHandler service.NotificationHandler
}

// WithLogger replaces the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithStore replaces the default in-memory persistence.
func WithStore(store storage.Facade) Option {
	return func(o *options) { o.store = store }
}

// WithAPIClient replaces the REST client; used in tests.
func WithAPIClient(client api.Client) Option {
	return func(o *options) { o.apiClient = client }
}

// WithMonitorFactory replaces the realtime monitor construction; used in
// tests.
func WithMonitorFactory(f service.MonitorFactory) Option {
	return func(o *options) { o.monitorFactory = f }
}

// WithNotificationHandler installs the hook invoked for messages that arrive
// while the conversation is off screen.
func WithNotificationHandler(h func(conversationID string, msg *Message)) Option {
	return func(o *options) { o.notificationHandler = service.NotificationHandler(h) }
}

// Client is the SDK entry point.
type Client struct {
	svc *service.ChatService

	mu       sync.RWMutex
	delegate *Delegate
}

// New builds a Client. The returned Client is inert until Init is called.
func New(settings Settings, opts ...Option) (*Client, error) {
	if settings.IntegrationID == "" {
		return nil, fmt.Errorf("chatsdk: integration id is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		var err error
		o.log, err = logger.New("info")
		if err != nil {
			return nil, fmt.Errorf("chatsdk: %w", err)
		}
	}
	if o.store == nil {
		o.store = storage.NewMemory()
	}
	if o.apiClient == nil {
		baseURL := settings.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		store := o.store
		o.apiClient = api.NewHTTPClient(baseURL, func() api.Credentials {
			return api.Credentials{
				JWT:          store.JWT(),
				SessionToken: store.SessionToken(),
				AppUserID:    store.AppUserID(),
			}
		}, o.log)
	}

	c := &Client{}
	c.svc = service.NewChatService(service.Config{
		IntegrationID:       settings.IntegrationID,
		AuthCode:            settings.AuthCode,
		LegacyClientID:      settings.LegacyClientID,
		Debug:               settings.Debug,
		API:                 o.apiClient,
		Store:               o.store,
		MonitorFactory:      o.monitorFactory,
		Observer:            c.observer(),
		NotificationHandler: o.notificationHandler,
		Logger:              o.log,
	})
	return c, nil
}

// Init starts initialization. cb may be nil; the delegate's
// OnInitializationStatusChanged fires either way.
func (c *Client) Init(cb func(status InitializationStatus, result CallResult)) {
	c.svc.Init(service.InitCallback(cb))
}

// Login authenticates as the host app's user. An empty externalID is
// rejected synchronously, before any network traffic.
func (c *Client) Login(externalID, jwt string, cb func(result CallResult)) {
	if externalID == "" {
		if cb != nil {
			cb(CallResult{
				StatusCode: http.StatusBadRequest,
				Err:        fmt.Errorf("chatsdk: externalID must not be empty"),
			})
		}
		return
	}
	c.svc.Login(externalID, jwt, service.ResultCallback(cb))
}

// Logout drops the authenticated identity.
func (c *Client) Logout(cb func(result CallResult)) {
	c.svc.Logout(service.ResultCallback(cb))
}

// Conversation returns the proxy over the current conversation.
func (c *Client) Conversation() *Conversation {
	return &Conversation{svc: c.svc}
}

// User returns the proxy over the current user profile.
func (c *Client) User() *User {
	return &User{svc: c.svc}
}

// ConversationsList refreshes and returns the user's conversations.
func (c *Client) ConversationsList(cb func(convs []*ConversationData, result CallResult)) {
	c.svc.GetConversationsList(service.ConversationsCallback(cb))
}

// LoadConversation makes the given conversation the current one.
func (c *Client) LoadConversation(conversationID string, cb func(conv *ConversationData, result CallResult)) {
	c.svc.LoadConversation(conversationID, service.ConversationCallback(cb))
}

// GetConversation returns one conversation, from the local snapshot when it
// is provably fresh.
func (c *Client) GetConversation(conversationID string, cb func(conv *ConversationData, result CallResult)) {
	c.svc.GetConversationByID(conversationID, service.ConversationCallback(cb))
}

// CreateConversation starts a new conversation with an optional intent.
func (c *Client) CreateConversation(intent string, cb func(conv *ConversationData, result CallResult)) {
	c.svc.CreateConversation(intent, service.ConversationCallback(cb))
}

// SetDelegate installs (or replaces) the host app's callback record.
func (c *Client) SetDelegate(d *Delegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

func (c *Client) currentDelegate() *Delegate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.delegate
}

// InitializationStatus returns the lifecycle state.
func (c *Client) InitializationStatus() InitializationStatus {
	return c.svc.InitializationStatus()
}

// ConnectionStatus returns the last connectivity signal fed via
// SetConnectivity.
func (c *Client) ConnectionStatus() ConnectionStatus {
	return c.svc.ConnectionStatus()
}

// SetConnectivity feeds the host platform's connectivity signal into the
// SDK. The SDK has no portable way to observe it on its own.
func (c *Client) SetConnectivity(online bool) {
	c.svc.SetConnectivity(online)
}

// SetPushToken registers the device push token.
func (c *Client) SetPushToken(token string) {
	c.svc.SetPushToken(token)
}

// Destroy releases the client. It must not be used afterwards.
func (c *Client) Destroy() {
	c.svc.Destroy()
}
