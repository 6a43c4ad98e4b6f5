package service

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/api"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/internal/realtime"
	"github.com/clarabridge/chat-sdk-go/internal/storage"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
	"github.com/clarabridge/chat-sdk-go/pkg/metrics"
)

// InitializationStatus is the lifecycle state of the SDK.
type InitializationStatus string

const (
	InitUnknown   InitializationStatus = "unknown"
	InitSuccess   InitializationStatus = "success"
	InitError     InitializationStatus = "error"
	InitInvalidID InitializationStatus = "invalid_id"
)

// ConnectionStatus is the device connectivity as reported by the host app.
type ConnectionStatus string

const (
	ConnectionUnknown      ConnectionStatus = "not_yet_determined"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// CallResult carries the outcome of an asynchronous operation. StatusCode is
// the HTTP status (0 when the request never reached the server) and Err is
// nil on success.
type CallResult struct {
	StatusCode int
	Err        error
}

// OK reports whether the operation succeeded.
func (r CallResult) OK() bool { return r.Err == nil }

// Callback signatures for async operations.
type (
	InitCallback          func(status InitializationStatus, result CallResult)
	ResultCallback        func(result CallResult)
	MessageCallback       func(msg *model.Message, result CallResult)
	ConversationCallback  func(conv *model.Conversation, result CallResult)
	ConversationsCallback func(convs []*model.Conversation, result CallResult)
)

// Observer is the capability record of optional host-app callbacks. Nil
// fields are skipped. Every callback runs on the dispatcher goroutine, so
// they are ordered and never reentrant with the call that triggered them.
type Observer struct {
	MessagesReceived          func(conversationID string, msgs []*model.Message)
	MessagesReset             func(conversationID string, msgs []*model.Message)
	UnreadCountChanged        func(conversationID string, count int)
	MessageSent               func(msg *model.Message, result CallResult)
	ConversationEventReceived func(ev *model.ConversationEvent)
	InitStatusChanged         func(status InitializationStatus)
	LoginComplete             func(result CallResult)
	LogoutComplete            func(result CallResult)
	ConversationsListUpdated  func(convs []*model.Conversation)
	ConnectionStatusChanged   func(status ConnectionStatus)
}

// NotificationHandler surfaces a message the host app should notify the user
// about: received while the conversation is not on screen, not self-authored.
type NotificationHandler func(conversationID string, msg *model.Message)

// MonitorFactory builds the realtime monitor. Swapped out in tests.
type MonitorFactory func(opts realtime.Options, delegate realtime.Delegate) realtime.Monitor

// Config wires a ChatService together. API, Store and Logger are required.
type Config struct {
	IntegrationID  string
	AuthCode       string
	LegacyClientID string
	Debug          bool

	API                 api.Client
	Store               storage.Facade
	MonitorFactory      MonitorFactory
	Observer            Observer
	NotificationHandler NotificationHandler
	Logger              *logger.Logger
}

// ChatService is the orchestrator: it owns the single authoritative
// conversation and user state, the initialization state machine, the send
// pipeline and the realtime reconciliation. All state below the lock-guarded
// exceptions is touched only on the dispatcher goroutine.
type ChatService struct {
	dispatcher *Dispatcher
	apiClient  api.Client
	store      storage.Facade
	manager    *ConversationManager
	log        *logger.Logger

	observer            Observer
	notificationHandler NotificationHandler
	monitorFactory      MonitorFactory

	integrationID  string
	authCode       string
	legacyClientID string
	debug          bool

	// Dispatcher-owned state.
	initStatus          InitializationStatus
	connStatus          ConnectionStatus
	firstConnectivity   bool
	retryInitOnConnect  bool
	retryCount          int
	initCallback        InitCallback
	appConfig           *model.AppConfig
	retryConfig         *model.RetryConfiguration
	conversation        *model.Conversation
	conversationVisible bool
	appUserLocal        *model.AppUser
	appUserRemote       *model.AppUser
	monitor             realtime.Monitor

	onInitSuccess  []func()
	onInitComplete []func()
	onReady        []func()

	messageQueue         []*model.Message
	processingMessage    bool
	creatingConversation bool

	lastTypingStart time.Time

	// Cross-goroutine upload tracking, see messaging.go.
	upMu              sync.Mutex
	messageLocks      map[string]*sync.Mutex
	pendingUploads    map[string]*model.Message
	processingUploads map[string]*processingUpload
	rejectedUploads   map[string]string

	// Serializes unread recomputation against its announcement.
	countMu         sync.Mutex
	lastUnreadCount int

	now func() time.Time
	rng *rand.Rand
}

// NewChatService builds the orchestrator and starts its dispatcher.
func NewChatService(cfg Config) *ChatService {
	s := &ChatService{
		dispatcher:          NewDispatcher(),
		apiClient:           cfg.API,
		store:               cfg.Store,
		manager:             NewConversationManager(cfg.Store, cfg.Logger),
		log:                 cfg.Logger,
		observer:            cfg.Observer,
		notificationHandler: cfg.NotificationHandler,
		monitorFactory:      cfg.MonitorFactory,
		integrationID:       cfg.IntegrationID,
		authCode:            cfg.AuthCode,
		legacyClientID:      cfg.LegacyClientID,
		debug:               cfg.Debug,
		initStatus:          InitUnknown,
		connStatus:          ConnectionUnknown,
		firstConnectivity:   true,
		conversation:        &model.Conversation{},
		appUserLocal:        &model.AppUser{},
		messageLocks:        make(map[string]*sync.Mutex),
		pendingUploads:      make(map[string]*model.Message),
		processingUploads:   make(map[string]*processingUpload),
		rejectedUploads:     make(map[string]string),
		now:                 time.Now,
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.monitorFactory == nil {
		s.monitorFactory = func(opts realtime.Options, delegate realtime.Delegate) realtime.Monitor {
			return realtime.NewNATSMonitor(opts, delegate, cfg.Logger)
		}
	}
	s.store.SetIntegrationID(cfg.IntegrationID)
	if local := s.store.AppUserLocal(); local != nil {
		s.appUserLocal = local
	}
	s.appUserRemote = s.store.AppUserRemote()
	return s
}

// Destroy shuts the service down. The instance is unusable afterwards.
func (s *ChatService) Destroy() {
	s.dispatcher.Sync(func() {
		if s.monitor != nil {
			s.monitor.Close()
			s.monitor = nil
		}
	})
	s.dispatcher.Stop()
}

// InitializationStatus returns the current lifecycle state.
func (s *ChatService) InitializationStatus() InitializationStatus {
	var st InitializationStatus
	s.dispatcher.Sync(func() { st = s.initStatus })
	return st
}

// ConnectionStatus returns the last connectivity signal.
func (s *ChatService) ConnectionStatus() ConnectionStatus {
	var st ConnectionStatus
	s.dispatcher.Sync(func() { st = s.connStatus })
	return st
}

// ConversationSnapshot returns an immutable copy of the authoritative
// conversation.
func (s *ChatService) ConversationSnapshot() *model.Conversation {
	var snap *model.Conversation
	s.dispatcher.Sync(func() { snap = s.conversation.Clone() })
	return snap
}

// CurrentUserID returns the app user id of the logged-in or anonymous user.
func (s *ChatService) CurrentUserID() string {
	return s.store.AppUserID()
}

// ExternalUserID returns the host app's id for the user, if logged in.
func (s *ChatService) ExternalUserID() string {
	var id string
	s.dispatcher.Sync(func() {
		if s.appUserRemote != nil {
			id = s.appUserRemote.UserID
		}
	})
	return id
}

// UserSnapshot returns a merged copy of the user profile: remote state with
// pending local edits applied.
func (s *ChatService) UserSnapshot() *model.AppUser {
	var u *model.AppUser
	s.dispatcher.Sync(func() {
		u = s.appUserRemote.Clone()
		if u == nil {
			u = &model.AppUser{}
		}
		u.Merge(s.appUserLocal)
	})
	return u
}

// ConversationVisible reports whether the host marked the conversation as on
// screen.
func (s *ChatService) ConversationVisible() bool {
	var v bool
	s.dispatcher.Sync(func() { v = s.conversationVisible })
	return v
}

// SetConversationVisible records whether the conversation UI is on screen.
// Becoming visible marks the transcript read.
func (s *ChatService) SetConversationVisible(visible bool) {
	s.dispatcher.Post(func() {
		s.conversationVisible = visible
		if visible {
			s.markAllAsReadLocked()
		}
	})
}

const taskKeyInitRetry = "init-retry"

// Init starts (or restarts) the initialization protocol.
func (s *ChatService) Init(cb InitCallback) {
	s.dispatcher.Post(func() {
		s.initCallback = cb
		s.retryCount = 0
		s.initStatus = InitUnknown
		s.attemptInit()
	})
}

// attemptInit fetches remote config. Dispatcher goroutine only.
func (s *ChatService) attemptInit() {
	s.dispatcher.Cancel(taskKeyInitRetry)
	s.apiClient.SetAppID(s.integrationID)
	go func() {
		cfg, status, err := s.apiClient.GetConfig(context.Background())
		s.dispatcher.Post(func() {
			if err != nil {
				s.onInitFailure(status)
				return
			}
			s.onConfigFetched(cfg)
		})
	}()
}

func (s *ChatService) onConfigFetched(cfg *model.AppConfig) {
	if !s.isAppValid(cfg) {
		s.log.Warn("app config invalid", zap.String("integration_id", s.integrationID))
		s.completeInitialization(InitInvalidID, CallResult{StatusCode: http.StatusOK, Err: fmt.Errorf("app is not usable")})
		return
	}
	s.appConfig = cfg
	s.store.SaveAppID(cfg.App.ID)
	if cfg.BaseURL != "" {
		s.apiClient.SetBaseURL(cfg.BaseURL)
	}
	s.apiClient.SetAppID(cfg.App.ID)
	if cfg.RetryConfiguration != nil {
		s.retryConfig = cfg.RetryConfiguration
		s.store.SaveRetryConfiguration(cfg.RetryConfiguration)
	}
	s.continueInitAfterConfig()
}

// isAppValid enforces the config gate: the app must exist, be active, and
// not point at localhost outside debug builds.
func (s *ChatService) isAppValid(cfg *model.AppConfig) bool {
	if cfg == nil || cfg.App == nil || cfg.App.ID == "" {
		return false
	}
	if cfg.App.Status != "active" {
		return false
	}
	if cfg.BaseURL == "" {
		return false
	}
	if !s.debug && (strings.Contains(cfg.BaseURL, "localhost") || strings.Contains(cfg.BaseURL, "127.0.0.1")) {
		return false
	}
	return true
}

func (s *ChatService) continueInitAfterConfig() {
	if s.authCode != "" {
		code := s.authCode
		s.authCode = ""
		go func() {
			user, status, err := s.apiClient.ConsumeAuthCode(context.Background(), code)
			s.dispatcher.Post(func() {
				if err != nil {
					s.onInitFailure(status)
					return
				}
				s.applySdkUser(user)
				s.completeInitialization(InitSuccess, CallResult{StatusCode: status})
			})
		}()
		return
	}
	if s.legacyClientID != "" {
		clientID := s.legacyClientID
		s.legacyClientID = ""
		go func() {
			resp, status, err := s.apiClient.UpgradeAppUser(context.Background(), clientID)
			s.dispatcher.Post(func() {
				if err == nil && resp != nil {
					if resp.SessionToken != "" {
						s.store.SaveSessionToken(resp.SessionToken)
					}
					if resp.AppUser != nil {
						s.store.SaveAppUserID(resp.AppUser.AppUserID)
						s.setRemoteUser(resp.AppUser)
					}
				} else if isRetryableStatus(status) {
					s.onInitFailure(status)
					return
				}
				// A terminal upgrade failure just means no legacy
				// identity; continue as whoever we are.
				s.fetchOrCreateUser()
			})
		}()
		return
	}
	s.fetchOrCreateUser()
}

// fetchOrCreateUser completes initialization: log in when an authenticated
// identity exists, fetch the known anonymous user, or create a fresh one.
func (s *ChatService) fetchOrCreateUser() {
	jwt := s.store.JWT()
	appUserID := s.store.AppUserID()
	externalID := ""
	if s.appUserRemote != nil {
		externalID = s.appUserRemote.UserID
	}

	switch {
	case jwt != "" && externalID != "":
		go func() {
			user, status, err := s.apiClient.Login(context.Background(), externalID, s.store.SessionToken(), appUserID)
			s.dispatcher.Post(func() { s.finishUserSetup(user, status, err) })
		}()
	case appUserID != "":
		go func() {
			user, status, err := s.apiClient.GetAppUser(context.Background(), appUserID)
			s.dispatcher.Post(func() { s.finishUserSetup(user, status, err) })
		}()
	default:
		local := s.appUserLocal.Clone()
		go func() {
			user, status, err := s.apiClient.CreateUser(context.Background(), local, "")
			s.dispatcher.Post(func() { s.finishUserSetup(user, status, err) })
		}()
	}
}

func (s *ChatService) finishUserSetup(user *api.SdkUser, status int, err error) {
	if err != nil {
		s.onInitFailure(status)
		return
	}
	s.applySdkUser(user)
	s.completeInitialization(InitSuccess, CallResult{StatusCode: status})
}

// applySdkUser folds a login/fetch payload into local state: credentials,
// profile, settings, and the most recent conversation.
func (s *ChatService) applySdkUser(user *api.SdkUser) {
	if user == nil {
		return
	}
	if user.SessionToken != "" {
		s.store.SaveSessionToken(user.SessionToken)
	}
	if user.AppUser != nil {
		s.store.SaveAppUserID(user.AppUser.AppUserID)
		s.setRemoteUser(user.AppUser)
	}
	if user.Settings != nil {
		s.store.SaveUserSettings(user.Settings)
	}
	if len(user.Conversations) > 0 {
		model.SortConversations(user.Conversations)
		s.store.SaveConversationsList(user.Conversations)
		recent := user.Conversations[0]
		s.conversation.Update(recent)
		s.conversation.SortMessagesInPlace()
		if recent.ID != "" {
			s.store.SaveConversationByID(recent.ID, s.conversation)
		}
	}
	s.buildAndStartMonitor()
}

func (s *ChatService) setRemoteUser(u *model.AppUser) {
	s.appUserRemote = u.Clone()
	s.store.SaveAppUserRemote(s.appUserRemote)
}

// onInitFailure routes one failed initialization step. Offline failures roll
// the status back to UNKNOWN and wait for connectivity instead of burning a
// retry.
func (s *ChatService) onInitFailure(status int) {
	if s.connStatus == ConnectionDisconnected {
		s.initStatus = InitUnknown
		s.retryInitOnConnect = true
		s.log.Info("initialization suspended while offline")
		return
	}
	if isInvalidAppStatus(status) {
		s.completeInitialization(InitInvalidID, CallResult{StatusCode: status, Err: fmt.Errorf("app id rejected: status %d", status)})
		return
	}
	cfg := s.effectiveRetryConfig()
	if isRetryableStatus(status) && s.retryCount < cfg.MaxRetries {
		base := cfg.Intervals.Regular
		if s.conversationVisible {
			base = cfg.Intervals.Aggressive
		}
		delay := retryDelay(cfg, base, s.retryCount, s.rng)
		s.retryCount++
		metrics.InitRetriesTotal.Inc()
		s.log.Info("initialization retry scheduled",
			zap.Int("attempt", s.retryCount),
			zap.Duration("delay", delay),
			zap.Int("status", status))
		s.dispatcher.PostDelayed(taskKeyInitRetry, delay, s.attemptInit)
		return
	}
	s.completeInitialization(InitError, CallResult{StatusCode: status, Err: fmt.Errorf("initialization failed: status %d", status)})
}

func (s *ChatService) effectiveRetryConfig() *model.RetryConfiguration {
	if s.retryConfig != nil {
		return s.retryConfig
	}
	if stored := s.store.RetryConfiguration(); stored != nil {
		s.retryConfig = stored
		return stored
	}
	return model.DefaultRetryConfiguration()
}

// completeInitialization transitions to a terminal state and releases the
// deferred queues whose condition is now met.
func (s *ChatService) completeInitialization(status InitializationStatus, result CallResult) {
	s.initStatus = status
	s.log.Info("initialization complete", zap.String("status", string(status)))
	if s.observer.InitStatusChanged != nil {
		s.observer.InitStatusChanged(status)
	}
	if cb := s.initCallback; cb != nil {
		s.initCallback = nil
		cb(status, result)
	}
	s.releaseQueue(&s.onInitComplete)
	if status == InitSuccess {
		s.releaseQueue(&s.onInitSuccess)
		s.checkReady()
	}
}

// releaseQueue drains a deferred-call list in FIFO order. Tasks are posted
// rather than run inline so a task enqueuing another deferred call observes
// consistent state.
func (s *ChatService) releaseQueue(q *[]func()) {
	pending := *q
	*q = nil
	for _, task := range pending {
		s.dispatcher.Post(task)
	}
}

// deferOnInitSuccess runs task now if initialization has succeeded,
// otherwise queues it.
func (s *ChatService) deferOnInitSuccess(task func()) {
	if s.initStatus == InitSuccess {
		task()
		return
	}
	s.onInitSuccess = append(s.onInitSuccess, task)
}

// deferOnInitComplete runs task once initialization reaches any terminal
// state, so callers get a definitive answer even after init failure.
func (s *ChatService) deferOnInitComplete(task func()) {
	if s.initStatus != InitUnknown {
		task()
		return
	}
	s.onInitComplete = append(s.onInitComplete, task)
}

// deferOnReady runs task when initialization has succeeded and the realtime
// channel is up; queuing it also kicks the monitor awake, since readiness
// can only arrive through a connection.
func (s *ChatService) deferOnReady(task func()) {
	if s.initStatus == InitSuccess && s.monitor != nil && s.monitor.IsConnected() {
		task()
		return
	}
	s.onReady = append(s.onReady, task)
	if s.initStatus == InitSuccess {
		s.buildAndStartMonitor()
	}
}

// checkReady flushes the ready queue if its condition holds, or pushes the
// monitor toward connecting.
func (s *ChatService) checkReady() {
	if s.monitor == nil || !s.monitor.IsConnected() {
		s.buildAndStartMonitor()
		return
	}
	s.releaseQueue(&s.onReady)
}

// buildAndStartMonitor constructs the realtime monitor from the current user
// settings and resumes it. Readiness can only arrive through a connection, so
// settings that came down with realtime off are flipped on here; otherwise
// ready-gated sends and uploads would park forever. No-op while identity is
// missing.
func (s *ChatService) buildAndStartMonitor() {
	appID := s.store.AppID()
	appUserID := s.store.AppUserID()
	if appID == "" || appUserID == "" {
		return
	}
	settings := s.store.UserSettings()
	if settings == nil {
		settings = &model.UserSettings{}
	}
	if settings.Realtime == nil {
		settings.Realtime = &model.RealtimeSettings{}
	}
	if !settings.Realtime.Enabled {
		settings.Realtime.Enabled = true
		s.store.SaveUserSettings(settings)
	}
	if s.monitor != nil {
		if s.monitor.AppID() == appID {
			s.monitor.Resume()
			return
		}
		s.monitor.Close()
		s.monitor = nil
	}
	rt := settings.Realtime
	s.monitor = s.monitorFactory(realtime.Options{
		AppID:                 appID,
		AppUserID:             appUserID,
		URL:                   rt.BaseURL,
		RetryInterval:         rt.RetryInterval,
		MaxConnectionAttempts: rt.MaxConnectionAttempts,
		ConnectionDelay:       rt.ConnectionDelay,
	}, s)
	s.monitor.Resume()
}

// Login authenticates as an external user. Runs once initialization reaches
// a terminal state.
func (s *ChatService) Login(externalID, jwt string, cb ResultCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitComplete(func() {
			if s.initStatus == InitInvalidID {
				s.finishLogin(cb, CallResult{StatusCode: 0, Err: fmt.Errorf("cannot log in: invalid app id")})
				return
			}
			s.store.SaveJWT(jwt)
			s.syncAppUserNow()
			appUserID := s.store.AppUserID()
			sessionToken := s.store.SessionToken()
			go func() {
				user, status, err := s.apiClient.Login(context.Background(), externalID, sessionToken, appUserID)
				s.dispatcher.Post(func() {
					if err != nil {
						s.finishLogin(cb, CallResult{StatusCode: status, Err: err})
						return
					}
					s.resetConversationState()
					s.applySdkUser(user)
					if user != nil && user.AppUser != nil {
						s.appUserRemote.UserID = externalID
						s.store.SaveAppUserRemote(s.appUserRemote)
					}
					s.refreshConversationList(nil)
					s.finishLogin(cb, CallResult{StatusCode: status})
				})
			}()
		})
	})
}

func (s *ChatService) finishLogin(cb ResultCallback, result CallResult) {
	if s.observer.LoginComplete != nil {
		s.observer.LoginComplete(result)
	}
	if cb != nil {
		cb(result)
	}
}

// Logout drops the authenticated identity and all persisted state for it.
func (s *ChatService) Logout(cb ResultCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitComplete(func() {
			s.syncAppUserNow()
			go func() {
				status, err := s.apiClient.Logout(context.Background())
				s.dispatcher.Post(func() {
					if err != nil {
						s.finishLogout(cb, CallResult{StatusCode: status, Err: err})
						return
					}
					s.clearIdentity()
					s.finishLogout(cb, CallResult{StatusCode: status})
				})
			}()
		})
	})
}

func (s *ChatService) finishLogout(cb ResultCallback, result CallResult) {
	if s.observer.LogoutComplete != nil {
		s.observer.LogoutComplete(result)
	}
	if cb != nil {
		cb(result)
	}
}

func (s *ChatService) clearIdentity() {
	s.store.SaveJWT("")
	s.store.SaveSessionToken("")
	s.store.SaveAppUserID("")
	s.store.SaveAppUserLocal(nil)
	s.store.SaveAppUserRemote(nil)
	s.store.SaveConversationsList(nil)
	if s.conversation.ID != "" {
		s.store.SaveConversationByID(s.conversation.ID, nil)
	}
	s.appUserLocal = &model.AppUser{}
	s.appUserRemote = nil
	s.resetConversationState()
	if s.monitor != nil {
		s.monitor.Close()
		s.monitor = nil
	}
}

// resetConversationState replaces the authoritative conversation wholesale,
// the one place object identity is allowed to break.
func (s *ChatService) resetConversationState() {
	s.conversation = &model.Conversation{}
	s.messageQueue = nil
	s.processingMessage = false
	metrics.SendQueueDepth.Set(0)
	s.upMu.Lock()
	s.pendingUploads = make(map[string]*model.Message)
	s.processingUploads = make(map[string]*processingUpload)
	s.rejectedUploads = make(map[string]string)
	s.upMu.Unlock()
}

// SetConnectivity feeds the host app's connectivity signal into the state
// machine.
func (s *ChatService) SetConnectivity(online bool) {
	s.dispatcher.Post(func() {
		first := s.firstConnectivity
		s.firstConnectivity = false
		if online {
			s.connStatus = ConnectionConnected
			if s.retryInitOnConnect {
				s.retryInitOnConnect = false
				s.retryCount = 0
				s.attemptInit()
			} else if s.conversation.ID != "" && !first {
				s.refreshConversation(s.conversation.ID, nil)
			}
			if s.monitor != nil {
				s.monitor.Resume()
			}
		} else {
			s.connStatus = ConnectionDisconnected
			if s.monitor != nil {
				s.monitor.Pause()
			}
		}
		if s.observer.ConnectionStatusChanged != nil {
			s.observer.ConnectionStatusChanged(s.connStatus)
		}
	})
}

// CreateConversation starts a new server-side conversation, optionally
// carrying an intent hint for automation on the business side.
func (s *ChatService) CreateConversation(intent string, cb ConversationCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitSuccess(func() {
			appUserID := s.store.AppUserID()
			go func() {
				resp, status, err := s.apiClient.CreateConversation(context.Background(), appUserID, intent)
				s.dispatcher.Post(func() {
					if err != nil {
						s.invokeConversationCallback(cb, nil, CallResult{StatusCode: status, Err: err})
						return
					}
					s.adoptFetchedConversation(resp)
					s.invokeConversationCallback(cb, s.conversation.Clone(), CallResult{StatusCode: status})
				})
			}()
		})
	})
}

// LoadConversation makes the given conversation the current one, fetching
// its transcript. Switching to a different conversation goes through
// subscribe so the server registers the participant before the transcript is
// adopted.
func (s *ChatService) LoadConversation(conversationID string, cb ConversationCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitSuccess(func() {
			if conversationID == s.conversation.ID {
				s.refreshConversation(conversationID, cb)
				return
			}
			s.subscribeConversation(conversationID, cb)
		})
	})
}

// GetConversationByID serves from the persisted snapshot when it is provably
// current, otherwise falls through to a network fetch.
func (s *ChatService) GetConversationByID(conversationID string, cb ConversationCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitSuccess(func() {
			if s.manager.IsUpToDate(conversationID) {
				if saved := s.store.ConversationByID(conversationID); saved != nil {
					s.invokeConversationCallback(cb, saved, CallResult{StatusCode: http.StatusOK})
					return
				}
			}
			s.fetchConversation(conversationID, cb)
		})
	})
}

// GetConversationsList refreshes and returns the conversation list.
func (s *ChatService) GetConversationsList(cb ConversationsCallback) {
	s.dispatcher.Post(func() {
		s.deferOnInitSuccess(func() {
			s.refreshConversationList(cb)
		})
	})
}

// SetPushToken registers the device push token for the current user.
func (s *ChatService) SetPushToken(token string) {
	s.dispatcher.Post(func() {
		s.deferOnInitSuccess(func() {
			appUserID := s.store.AppUserID()
			integrationID := s.integrationID
			go func() {
				if status, err := s.apiClient.UpdatePushToken(context.Background(), appUserID, integrationID, token); err != nil {
					s.log.Warn("push token update failed",
						zap.Int("status", status),
						zap.Error(err))
				}
			}()
		})
	})
}

// UpdateUser applies a profile edit to the pending local copy and schedules
// the debounced sync.
func (s *ChatService) UpdateUser(mutate func(u *model.AppUser)) {
	s.dispatcher.Post(func() {
		mutate(s.appUserLocal)
		s.appUserLocal.Modified = true
		s.store.SaveAppUserLocal(s.appUserLocal)
		s.scheduleAppUserSync()
	})
}

const taskKeyProfileSync = "profile-sync"

func (s *ChatService) scheduleAppUserSync() {
	interval := 5 * time.Second
	if settings := s.store.UserSettings(); settings != nil && settings.Profile != nil {
		if !settings.Profile.Enabled {
			return
		}
		if settings.Profile.UploadInterval > 0 {
			interval = time.Duration(settings.Profile.UploadInterval) * time.Second
		}
	}
	s.dispatcher.PostDelayed(taskKeyProfileSync, interval, s.syncAppUserNow)
}

// syncAppUserNow pushes pending profile edits immediately. Dispatcher
// goroutine only.
func (s *ChatService) syncAppUserNow() {
	if !s.appUserLocal.Modified {
		return
	}
	appUserID := s.store.AppUserID()
	if appUserID == "" {
		return
	}
	s.dispatcher.Cancel(taskKeyProfileSync)
	payload := s.appUserLocal.Clone()
	go func() {
		status, err := s.apiClient.UpdateAppUser(context.Background(), appUserID, payload)
		s.dispatcher.Post(func() {
			if err != nil {
				s.log.Warn("profile sync failed", zap.Int("status", status), zap.Error(err))
				s.scheduleAppUserSync()
				return
			}
			if s.appUserRemote == nil {
				s.appUserRemote = &model.AppUser{}
			}
			s.appUserRemote.Merge(payload)
			s.store.SaveAppUserRemote(s.appUserRemote)
			s.appUserLocal = &model.AppUser{}
			s.store.SaveAppUserLocal(s.appUserLocal)
		})
	}()
}

func (s *ChatService) invokeConversationCallback(cb ConversationCallback, conv *model.Conversation, result CallResult) {
	if cb != nil {
		cb(conv, result)
	}
}
