package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarabridge/chat-sdk-go/internal/api"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/internal/realtime"
	"github.com/clarabridge/chat-sdk-go/internal/storage"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

// fakeAPI is a programmable api.Client. Unset hooks fall back to a healthy
// sandbox-like default so tests only script the calls they care about.
type fakeAPI struct {
	configFn     func() (*model.AppConfig, int, error)
	createUserFn func(user *model.AppUser) (*api.SdkUser, int, error)
	getUserFn    func(appUserID string) (*api.SdkUser, int, error)
	loginFn      func(userID, sessionToken, appUserID string) (*api.SdkUser, int, error)
	logoutFn     func() (int, error)
	postFn       func(conversationID string, msg *model.Message) (*api.PostMessageResponse, int, error)
	uploadFn     func(conversationID string, up *api.Upload) (*api.FileUploadResponse, int, error)
	getConvFn    func(conversationID string) (*api.ConversationResponse, int, error)
	createConvFn func(appUserID, intent string) (*api.ConversationResponse, int, error)
	getConvsFn   func(appUserID string) (*api.ConversationsListResponse, int, error)
	updateUserFn func(appUserID string, user *model.AppUser) (int, error)

	configCalls     atomic.Int32
	postCalls       atomic.Int32
	getConvCalls    atomic.Int32
	getConvsCalls   atomic.Int32
	createConvCalls atomic.Int32
	subscribeCalls  atomic.Int32
	pushTokenCalls  atomic.Int32
	logoutCalls     atomic.Int32

	postInFlight    atomic.Int32
	postMaxInFlight atomic.Int32

	mu         sync.Mutex
	activities []model.ConversationEventType
	updated    []*model.AppUser
}

func defaultSettings() *model.UserSettings {
	return &model.UserSettings{
		Realtime: &model.RealtimeSettings{Enabled: true, BaseURL: "nats://test"},
		Typing:   &model.TypingSettings{Enabled: true},
		Profile:  &model.ProfileSettings{Enabled: true, UploadInterval: 1},
	}
}

func defaultConversation() *model.Conversation {
	return &model.Conversation{
		ID:            "c1",
		LastUpdatedAt: ts(50),
		Participants:  []*model.Participant{{ID: "p1", AppUserID: "user-1"}},
		Messages:      []*model.Message{{ID: "m0", AuthorID: "biz", Role: string(model.RoleBusiness), Text: "welcome", Received: ts(50)}},
	}
}

func defaultSdkUser() *api.SdkUser {
	return &api.SdkUser{
		AppUser:       &model.AppUser{AppUserID: "user-1"},
		Settings:      defaultSettings(),
		Conversations: []*model.Conversation{defaultConversation()},
		SessionToken:  "sess-1",
	}
}

func (f *fakeAPI) SetBaseURL(string) {}
func (f *fakeAPI) SetAppID(string)   {}

func (f *fakeAPI) GetConfig(context.Context) (*model.AppConfig, int, error) {
	f.configCalls.Add(1)
	if f.configFn != nil {
		return f.configFn()
	}
	return &model.AppConfig{
		App:                &model.App{ID: "app-1", Status: "active"},
		BaseURL:            "https://api.test",
		RetryConfiguration: model.DefaultRetryConfiguration(),
	}, 200, nil
}

func (f *fakeAPI) CreateUser(_ context.Context, user *model.AppUser, _ string) (*api.SdkUser, int, error) {
	if f.createUserFn != nil {
		return f.createUserFn(user)
	}
	return defaultSdkUser(), 201, nil
}

func (f *fakeAPI) Login(_ context.Context, userID, sessionToken, appUserID string) (*api.SdkUser, int, error) {
	if f.loginFn != nil {
		return f.loginFn(userID, sessionToken, appUserID)
	}
	u := defaultSdkUser()
	u.AppUser.UserID = userID
	return u, 200, nil
}

func (f *fakeAPI) Logout(context.Context) (int, error) {
	f.logoutCalls.Add(1)
	if f.logoutFn != nil {
		return f.logoutFn()
	}
	return 200, nil
}

func (f *fakeAPI) GetAppUser(_ context.Context, appUserID string) (*api.SdkUser, int, error) {
	if f.getUserFn != nil {
		return f.getUserFn(appUserID)
	}
	return defaultSdkUser(), 200, nil
}

func (f *fakeAPI) UpdateAppUser(_ context.Context, appUserID string, user *model.AppUser) (int, error) {
	if f.updateUserFn != nil {
		return f.updateUserFn(appUserID, user)
	}
	f.mu.Lock()
	f.updated = append(f.updated, user.Clone())
	f.mu.Unlock()
	return 200, nil
}

func (f *fakeAPI) ConsumeAuthCode(context.Context, string) (*api.SdkUser, int, error) {
	return defaultSdkUser(), 200, nil
}

func (f *fakeAPI) UpgradeAppUser(context.Context, string) (*api.UpgradeResponse, int, error) {
	return &api.UpgradeResponse{}, 200, nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, appUserID, intent string) (*api.ConversationResponse, int, error) {
	f.createConvCalls.Add(1)
	if f.createConvFn != nil {
		return f.createConvFn(appUserID, intent)
	}
	conv := defaultConversation()
	conv.Messages = nil
	return &api.ConversationResponse{Conversation: conv}, 201, nil
}

func (f *fakeAPI) GetConversation(_ context.Context, conversationID string) (*api.ConversationResponse, int, error) {
	f.getConvCalls.Add(1)
	if f.getConvFn != nil {
		return f.getConvFn(conversationID)
	}
	conv := defaultConversation()
	return &api.ConversationResponse{Conversation: conv, Messages: conv.Messages}, 200, nil
}

func (f *fakeAPI) GetConversations(_ context.Context, appUserID string) (*api.ConversationsListResponse, int, error) {
	f.getConvsCalls.Add(1)
	if f.getConvsFn != nil {
		return f.getConvsFn(appUserID)
	}
	return &api.ConversationsListResponse{Conversations: []*model.Conversation{defaultConversation()}}, 200, nil
}

func (f *fakeAPI) Subscribe(_ context.Context, conversationID string) (*api.ConversationResponse, int, error) {
	f.subscribeCalls.Add(1)
	conv := defaultConversation()
	conv.ID = conversationID
	return &api.ConversationResponse{Conversation: conv, Messages: conv.Messages}, 200, nil
}

func (f *fakeAPI) PostMessage(_ context.Context, conversationID string, msg *model.Message) (*api.PostMessageResponse, int, error) {
	n := f.postInFlight.Add(1)
	for {
		max := f.postMaxInFlight.Load()
		if n <= max || f.postMaxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	defer f.postInFlight.Add(-1)

	seq := f.postCalls.Add(1)
	if f.postFn != nil {
		return f.postFn(conversationID, msg)
	}
	confirmed := msg.Clone()
	confirmed.ID = fmt.Sprintf("srv-%d", seq)
	received := 0.5
	if msg.Created != nil {
		received = *msg.Created + 0.5
	}
	confirmed.Received = &received
	return &api.PostMessageResponse{Messages: []*model.Message{confirmed}}, 201, nil
}

func (f *fakeAPI) UploadImage(_ context.Context, conversationID string, up *api.Upload) (*api.FileUploadResponse, int, error) {
	if f.uploadFn != nil {
		return f.uploadFn(conversationID, up)
	}
	return &api.FileUploadResponse{MessageID: "up-1"}, 201, nil
}

func (f *fakeAPI) UploadFile(ctx context.Context, conversationID string, up *api.Upload) (*api.FileUploadResponse, int, error) {
	return f.UploadImage(ctx, conversationID, up)
}

func (f *fakeAPI) SendConversationActivity(_ context.Context, _ string, ev *model.ConversationEvent) (int, error) {
	f.mu.Lock()
	f.activities = append(f.activities, ev.Type)
	f.mu.Unlock()
	return 200, nil
}

func (f *fakeAPI) Postback(context.Context, string, *model.MessageAction) (int, error) {
	return 200, nil
}

func (f *fakeAPI) UpdatePushToken(context.Context, string, string, string) (int, error) {
	f.pushTokenCalls.Add(1)
	return 200, nil
}

func (f *fakeAPI) activityCount(t model.ConversationEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.activities {
		if a == t {
			n++
		}
	}
	return n
}

var _ api.Client = (*fakeAPI)(nil)

// fakeMonitor connects synchronously on Resume, standing in for the realtime
// channel.
type fakeMonitor struct {
	mu              sync.Mutex
	delegate        realtime.Delegate
	appID           string
	connected       bool
	closed          bool
	resumes         int
	pauses          int
	connectOnResume bool
}

func (m *fakeMonitor) Resume() {
	m.mu.Lock()
	m.resumes++
	fire := m.connectOnResume && !m.connected && !m.closed
	if fire {
		m.connected = true
	}
	d := m.delegate
	m.mu.Unlock()
	if fire && d != nil {
		d.OnMonitorConnected()
	}
}

func (m *fakeMonitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
	m.connected = false
}

func (m *fakeMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
}

func (m *fakeMonitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMonitor) AppID() string { return m.appID }

var _ realtime.Monitor = (*fakeMonitor)(nil)

// recorder captures observer callbacks for assertion. Callbacks arrive on the
// dispatcher goroutine while tests read from their own, hence the lock.
type recorder struct {
	mu            sync.Mutex
	initStatuses  []InitializationStatus
	unreadCounts  []int
	sent          []*model.Message
	sentResults   []CallResult
	received      []*model.Message
	resets        int
	listUpdates   int
	loginResults  []CallResult
	logoutResults []CallResult
	connStatuses  []ConnectionStatus
	events        []*model.ConversationEvent
	notified      []*model.Message
}

func (r *recorder) observer() Observer {
	return Observer{
		MessagesReceived: func(_ string, msgs []*model.Message) {
			r.mu.Lock()
			r.received = append(r.received, msgs...)
			r.mu.Unlock()
		},
		MessagesReset: func(string, []*model.Message) {
			r.mu.Lock()
			r.resets++
			r.mu.Unlock()
		},
		UnreadCountChanged: func(_ string, count int) {
			r.mu.Lock()
			r.unreadCounts = append(r.unreadCounts, count)
			r.mu.Unlock()
		},
		MessageSent: func(msg *model.Message, result CallResult) {
			r.mu.Lock()
			r.sent = append(r.sent, msg)
			r.sentResults = append(r.sentResults, result)
			r.mu.Unlock()
		},
		ConversationEventReceived: func(ev *model.ConversationEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
		InitStatusChanged: func(status InitializationStatus) {
			r.mu.Lock()
			r.initStatuses = append(r.initStatuses, status)
			r.mu.Unlock()
		},
		LoginComplete: func(result CallResult) {
			r.mu.Lock()
			r.loginResults = append(r.loginResults, result)
			r.mu.Unlock()
		},
		LogoutComplete: func(result CallResult) {
			r.mu.Lock()
			r.logoutResults = append(r.logoutResults, result)
			r.mu.Unlock()
		},
		ConversationsListUpdated: func([]*model.Conversation) {
			r.mu.Lock()
			r.listUpdates++
			r.mu.Unlock()
		},
		ConnectionStatusChanged: func(status ConnectionStatus) {
			r.mu.Lock()
			r.connStatuses = append(r.connStatuses, status)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) notificationHandler() NotificationHandler {
	return func(_ string, msg *model.Message) {
		r.mu.Lock()
		r.notified = append(r.notified, msg)
		r.mu.Unlock()
	}
}

func (r *recorder) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) lastUnread() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.unreadCounts) == 0 {
		return 0, false
	}
	return r.unreadCounts[len(r.unreadCounts)-1], true
}

type harness struct {
	svc     *ChatService
	api     *fakeAPI
	store   *storage.Memory
	monitor *fakeMonitor
	rec     *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)

	h := &harness{
		api:     &fakeAPI{},
		store:   storage.NewMemory(),
		monitor: &fakeMonitor{connectOnResume: true},
		rec:     &recorder{},
	}
	h.svc = NewChatService(Config{
		IntegrationID:       "int-1",
		API:                 h.api,
		Store:               h.store,
		Logger:              log,
		Observer:            h.rec.observer(),
		NotificationHandler: h.rec.notificationHandler(),
		MonitorFactory: func(opts realtime.Options, delegate realtime.Delegate) realtime.Monitor {
			h.monitor.mu.Lock()
			h.monitor.appID = opts.AppID
			h.monitor.delegate = delegate
			h.monitor.mu.Unlock()
			return h.monitor
		},
	})
	h.svc.dispatcher.Sync(func() {
		h.svc.rng = rand.New(rand.NewSource(1))
	})
	t.Cleanup(h.svc.Destroy)
	return h
}

func (h *harness) initOK(t *testing.T) {
	t.Helper()
	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) {
		done <- status
	})
	select {
	case status := <-done:
		require.Equal(t, InitSuccess, status)
	case <-time.After(5 * time.Second):
		t.Fatal("initialization did not complete")
	}
}

// drain waits for tasks queued so far, including tasks they posted.
func (h *harness) drain() {
	h.svc.dispatcher.Sync(func() {})
	h.svc.dispatcher.Sync(func() {})
}

// settle waits for the refreshes the monitor connection kicks off, so tests
// that count API calls start from a quiet baseline.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.api.getConvCalls.Load() >= 1 && h.api.getConvsCalls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	h.drain()
}

func TestInitSuccess(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)

	assert.Equal(t, InitSuccess, h.svc.InitializationStatus())
	assert.Equal(t, "user-1", h.svc.CurrentUserID())
	assert.Equal(t, "app-1", h.store.AppID())
	assert.Equal(t, "sess-1", h.store.SessionToken())
	assert.True(t, h.monitor.IsConnected(), "realtime comes up with init")

	// The most recent conversation is adopted as current.
	snap := h.svc.ConversationSnapshot()
	assert.Equal(t, "c1", snap.ID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m0", snap.Messages[0].ID)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, []InitializationStatus{InitSuccess}, h.rec.initStatuses)
}

func TestInitInvalidAppStatus(t *testing.T) {
	h := newHarness(t)
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return nil, 401, fmt.Errorf("status 401")
	}

	done := make(chan CallResult, 1)
	h.svc.Init(func(status InitializationStatus, result CallResult) {
		assert.Equal(t, InitInvalidID, status)
		done <- result
	})
	result := <-done
	assert.Equal(t, 401, result.StatusCode)
	assert.Error(t, result.Err)
	assert.Equal(t, int32(1), h.api.configCalls.Load(), "invalid ids are never retried")
}

func TestInitInactiveAppIsInvalid(t *testing.T) {
	h := newHarness(t)
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return &model.AppConfig{
			App:     &model.App{ID: "app-1", Status: "inactive"},
			BaseURL: "https://api.test",
		}, 200, nil
	}

	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) { done <- status })
	assert.Equal(t, InitInvalidID, <-done)
}

func TestInitLocalhostBaseURLRejectedOutsideDebug(t *testing.T) {
	h := newHarness(t)
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return &model.AppConfig{
			App:     &model.App{ID: "app-1", Status: "active"},
			BaseURL: "http://localhost:8080",
		}, 200, nil
	}

	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) { done <- status })
	assert.Equal(t, InitInvalidID, <-done)
}

func TestInitRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	// Zero-second intervals make the backoff timers fire immediately.
	h.store.SaveRetryConfiguration(&model.RetryConfiguration{
		Intervals:         model.RetryIntervals{Regular: 0, Aggressive: 0},
		BackoffMultiplier: 2,
		MaxRetries:        5,
	})
	h.api.configFn = func() (*model.AppConfig, int, error) {
		if h.api.configCalls.Load() <= 2 {
			return nil, 503, fmt.Errorf("status 503")
		}
		return &model.AppConfig{
			App:                &model.App{ID: "app-1", Status: "active"},
			BaseURL:            "https://api.test",
			RetryConfiguration: model.DefaultRetryConfiguration(),
		}, 200, nil
	}

	h.initOK(t)
	assert.Equal(t, int32(3), h.api.configCalls.Load(), "two failures, then success")
}

func TestInitGivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	h.store.SaveRetryConfiguration(&model.RetryConfiguration{
		Intervals:         model.RetryIntervals{Regular: 0, Aggressive: 0},
		BackoffMultiplier: 2,
		MaxRetries:        3,
	})
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return nil, 500, fmt.Errorf("status 500")
	}

	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) { done <- status })

	select {
	case status := <-done:
		assert.Equal(t, InitError, status)
	case <-time.After(5 * time.Second):
		t.Fatal("initialization never reached a terminal state")
	}
	assert.Equal(t, int32(4), h.api.configCalls.Load(), "initial attempt plus three retries")
}

func TestInitOfflineSuspendsAndResumesOnConnect(t *testing.T) {
	h := newHarness(t)
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return nil, 0, fmt.Errorf("network down")
	}
	h.svc.SetConnectivity(false)

	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) { done <- status })

	require.Eventually(t, func() bool {
		return h.api.configCalls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	h.drain()

	assert.Equal(t, InitUnknown, h.svc.InitializationStatus(), "offline failure rolls back to unknown")
	select {
	case status := <-done:
		t.Fatalf("reached terminal state %s while offline", status)
	default:
	}

	// Connectivity returns and the backend is healthy again; the suspended
	// initialization restarts on its own.
	h.api.configFn = nil
	h.svc.SetConnectivity(true)

	select {
	case status := <-done:
		assert.Equal(t, InitSuccess, status)
	case <-time.After(5 * time.Second):
		t.Fatal("initialization never resumed after reconnect")
	}
	assert.Equal(t, InitSuccess, h.svc.InitializationStatus())
}

func TestDeferredQueuesReleaseFIFO(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	add := func(tag string) func() {
		return func() {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	h.svc.dispatcher.Sync(func() {
		h.svc.deferOnInitSuccess(add("success-1"))
		h.svc.deferOnInitComplete(add("complete-1"))
		h.svc.deferOnInitSuccess(add("success-2"))
		h.svc.deferOnReady(add("ready-1"))
	})

	h.initOK(t)
	h.drain()

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	// complete releases before success, and each queue preserves FIFO order.
	assert.Equal(t, []string{"complete-1", "success-1", "success-2", "ready-1"}, got)

	// After success the queues are pass-through.
	h.svc.dispatcher.Sync(func() {
		h.svc.deferOnInitSuccess(add("late"))
	})
	mu.Lock()
	assert.Equal(t, "late", order[len(order)-1])
	mu.Unlock()
}

func TestDeferOnInitCompleteRunsOnFailureToo(t *testing.T) {
	h := newHarness(t)
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return nil, 404, fmt.Errorf("status 404")
	}

	var ran atomic.Bool
	var successRan atomic.Bool
	h.svc.dispatcher.Sync(func() {
		h.svc.deferOnInitComplete(func() { ran.Store(true) })
		h.svc.deferOnInitSuccess(func() { successRan.Store(true) })
	})

	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) { done <- status })
	assert.Equal(t, InitInvalidID, <-done)
	h.drain()

	assert.True(t, ran.Load(), "complete queue drains on any terminal state")
	assert.False(t, successRan.Load(), "success queue stays parked")
}

func TestSendFlowsWhenSettingsDisableRealtime(t *testing.T) {
	h := newHarness(t)
	h.api.createUserFn = func(*model.AppUser) (*api.SdkUser, int, error) {
		u := defaultSdkUser()
		u.Settings.Realtime = &model.RealtimeSettings{Enabled: false}
		return u, 201, nil
	}
	h.initOK(t)

	h.svc.SendMessage(&model.Message{Text: "hello"})

	require.Eventually(t, func() bool {
		return h.rec.sentCount() == 1
	}, 5*time.Second, 20*time.Millisecond, "ready-gated sends still release")
	assert.Equal(t, int32(1), h.api.postCalls.Load())
	assert.True(t, h.monitor.IsConnected(), "the monitor comes up regardless of the settings")

	settings := h.store.UserSettings()
	require.NotNil(t, settings.Realtime)
	assert.True(t, settings.Realtime.Enabled, "the forced start is persisted")
}

func TestLoadConversationSubscribesWhenSwitching(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)
	h.settle(t)
	h.api.getConvFn = func(conversationID string) (*api.ConversationResponse, int, error) {
		conv := defaultConversation()
		conv.ID = conversationID
		return &api.ConversationResponse{Conversation: conv, Messages: conv.Messages}, 200, nil
	}
	getBefore := h.api.getConvCalls.Load()

	done := make(chan *model.Conversation, 1)
	h.svc.LoadConversation("c2", func(c *model.Conversation, result CallResult) {
		require.NoError(t, result.Err)
		done <- c
	})
	got := <-done
	assert.Equal(t, "c2", got.ID)
	assert.Equal(t, int32(1), h.api.subscribeCalls.Load())
	assert.Equal(t, "c2", h.svc.ConversationSnapshot().ID)

	// Loading the now-current conversation refreshes instead of re-subscribing.
	reloaded := make(chan struct{}, 1)
	h.svc.LoadConversation("c2", func(_ *model.Conversation, result CallResult) {
		require.NoError(t, result.Err)
		reloaded <- struct{}{}
	})
	<-reloaded
	assert.Equal(t, int32(1), h.api.subscribeCalls.Load())
	assert.Greater(t, h.api.getConvCalls.Load(), getBefore)
}

func TestLoginSwitchesIdentity(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)

	h.api.loginFn = func(userID, _, appUserID string) (*api.SdkUser, int, error) {
		assert.Equal(t, "ext-1", userID)
		assert.Equal(t, "user-1", appUserID, "login carries the anonymous identity for merging")
		u := defaultSdkUser()
		u.AppUser = &model.AppUser{AppUserID: "user-2"}
		return u, 200, nil
	}

	done := make(chan CallResult, 1)
	h.svc.Login("ext-1", "the-jwt", func(result CallResult) { done <- result })
	result := <-done
	require.NoError(t, result.Err)

	assert.Equal(t, "the-jwt", h.store.JWT())
	assert.Equal(t, "user-2", h.svc.CurrentUserID())
	assert.Equal(t, "ext-1", h.svc.ExternalUserID())

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	require.Len(t, h.rec.loginResults, 1)
	assert.NoError(t, h.rec.loginResults[0].Err)
}

func TestLoginRejectedWhenAppInvalid(t *testing.T) {
	h := newHarness(t)
	h.api.configFn = func() (*model.AppConfig, int, error) {
		return nil, 404, fmt.Errorf("status 404")
	}
	done := make(chan InitializationStatus, 1)
	h.svc.Init(func(status InitializationStatus, _ CallResult) { done <- status })
	require.Equal(t, InitInvalidID, <-done)

	loginDone := make(chan CallResult, 1)
	h.svc.Login("ext-1", "jwt", func(result CallResult) { loginDone <- result })
	result := <-loginDone
	assert.Error(t, result.Err)
}

func TestLogoutClearsIdentity(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)

	done := make(chan CallResult, 1)
	h.svc.Logout(func(result CallResult) { done <- result })
	result := <-done
	require.NoError(t, result.Err)

	assert.Empty(t, h.store.JWT())
	assert.Empty(t, h.store.SessionToken())
	assert.Empty(t, h.store.AppUserID())
	assert.Nil(t, h.store.ConversationsList())
	assert.Empty(t, h.svc.ConversationSnapshot().ID)
	assert.False(t, h.monitor.IsConnected())
}

func TestSetConnectivityAnnouncesAndControlsMonitor(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)

	h.svc.SetConnectivity(false)
	h.drain()
	assert.Equal(t, ConnectionDisconnected, h.svc.ConnectionStatus())
	assert.False(t, h.monitor.IsConnected())

	h.svc.SetConnectivity(true)
	h.drain()
	assert.Equal(t, ConnectionConnected, h.svc.ConnectionStatus())

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, []ConnectionStatus{ConnectionDisconnected, ConnectionConnected}, h.rec.connStatuses)
}

func TestReconnectRefreshesLoadedConversation(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)
	h.settle(t)
	before := h.api.getConvCalls.Load()

	h.svc.SetConnectivity(true)
	h.drain()
	// Not the first signal and a conversation is loaded, so it refetches.
	h.svc.SetConnectivity(true)

	require.Eventually(t, func() bool {
		return h.api.getConvCalls.Load() > before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetConversationByIDServesFromCacheWhenFresh(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)
	h.settle(t)

	// Persist agreeing snapshots so the freshness check passes.
	conv := defaultConversation()
	h.store.SaveConversationByID("c1", conv)
	summary := defaultConversation()
	h.store.SaveConversationsList([]*model.Conversation{summary})

	before := h.api.getConvCalls.Load()
	done := make(chan *model.Conversation, 1)
	h.svc.GetConversationByID("c1", func(c *model.Conversation, result CallResult) {
		require.NoError(t, result.Err)
		done <- c
	})
	got := <-done
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, before, h.api.getConvCalls.Load(), "fresh snapshot skips the network")
}

func TestGetConversationByIDFetchesWhenStale(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)
	h.settle(t)

	// The list knows about a newer message than the persisted transcript.
	conv := defaultConversation()
	h.store.SaveConversationByID("c1", conv)
	summary := defaultConversation()
	summary.Messages = []*model.Message{{ID: "m9", Received: ts(999)}}
	h.store.SaveConversationsList([]*model.Conversation{summary})

	before := h.api.getConvCalls.Load()
	done := make(chan struct{}, 1)
	h.svc.GetConversationByID("c1", func(_ *model.Conversation, result CallResult) {
		require.NoError(t, result.Err)
		done <- struct{}{}
	})
	<-done
	assert.Greater(t, h.api.getConvCalls.Load(), before)
}

func TestUpdateUserSyncsProfileDebounced(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)

	h.svc.UpdateUser(func(u *model.AppUser) { u.FirstName = "Ada" })
	h.svc.UpdateUser(func(u *model.AppUser) { u.LastName = "Lovelace" })

	require.Eventually(t, func() bool {
		h.api.mu.Lock()
		defer h.api.mu.Unlock()
		return len(h.api.updated) == 1
	}, 5*time.Second, 20*time.Millisecond, "both edits coalesce into one sync")

	h.api.mu.Lock()
	pushed := h.api.updated[0]
	h.api.mu.Unlock()
	assert.Equal(t, "Ada", pushed.FirstName)
	assert.Equal(t, "Lovelace", pushed.LastName)

	h.drain()
	user := h.svc.UserSnapshot()
	assert.Equal(t, "Ada", user.FirstName)
}

func TestSetPushToken(t *testing.T) {
	h := newHarness(t)
	h.initOK(t)

	h.svc.SetPushToken("device-token")
	require.Eventually(t, func() bool {
		return h.api.pushTokenCalls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
