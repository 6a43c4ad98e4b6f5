package chatsdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarabridge/chat-sdk-go/internal/api"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/internal/realtime"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

func quietLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

// stubMonitor connects on Resume and hands the test the delegate, which is
// how realtime traffic gets injected.
type stubMonitor struct {
	mu        sync.Mutex
	delegate  realtime.Delegate
	appID     string
	connected bool
}

func (m *stubMonitor) Resume() {
	m.mu.Lock()
	fire := !m.connected
	m.connected = true
	d := m.delegate
	m.mu.Unlock()
	if fire && d != nil {
		d.OnMonitorConnected()
	}
}

func (m *stubMonitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *stubMonitor) Close() { m.Pause() }

func (m *stubMonitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *stubMonitor) AppID() string { return m.appID }

// testBackend is a minimal wire-compatible chat backend.
type testBackend struct {
	srv           *httptest.Server
	baseURL       atomic.Value
	readActivity  atomic.Int32
	postedTexts   []string
	postedTextsMu sync.Mutex
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}

	conversation := func() *model.Conversation {
		received := 50.0
		return &model.Conversation{
			ID:            "c1",
			LastUpdatedAt: &received,
			Participants:  []*model.Participant{{ID: "p1", AppUserID: "user-1"}},
			Messages: []*model.Message{{
				ID:       "m0",
				AuthorID: "biz",
				Role:     string(model.RoleBusiness),
				Text:     "welcome",
				Received: &received,
			}},
		}
	}
	sdkUser := func() *api.SdkUser {
		return &api.SdkUser{
			AppUser: &model.AppUser{AppUserID: "user-1"},
			Settings: &model.UserSettings{
				Realtime: &model.RealtimeSettings{Enabled: true, BaseURL: "nats://test"},
				Typing:   &model.TypingSettings{Enabled: true},
			},
			Conversations: []*model.Conversation{conversation()},
			SessionToken:  "sess-1",
		}
	}
	writeJSON := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}

	r := chi.NewRouter()
	r.Get("/sdk/v2/integrations/{integrationID}/config", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, &model.AppConfig{
			App:                &model.App{ID: "app-1", Status: "active"},
			BaseURL:            b.baseURL.Load().(string),
			RetryConfiguration: model.DefaultRetryConfiguration(),
		})
	})
	r.Post("/v2/apps/app-1/appusers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, sdkUser())
	})
	r.Get("/v2/apps/app-1/appusers/{appUserID}/conversations", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, &api.ConversationsListResponse{
			Conversations: []*model.Conversation{conversation()},
		})
	})
	r.Get("/v2/apps/app-1/conversations/{conversationID}", func(w http.ResponseWriter, _ *http.Request) {
		conv := conversation()
		writeJSON(w, http.StatusOK, &api.ConversationResponse{Conversation: conv, Messages: conv.Messages})
	})
	r.Post("/v2/apps/app-1/conversations/{conversationID}/messages", func(w http.ResponseWriter, req *http.Request) {
		var msg model.Message
		require.NoError(t, json.NewDecoder(req.Body).Decode(&msg))
		b.postedTextsMu.Lock()
		b.postedTexts = append(b.postedTexts, msg.Text)
		b.postedTextsMu.Unlock()
		msg.ID = "m-posted"
		received := 100.5
		msg.Received = &received
		writeJSON(w, http.StatusCreated, &api.PostMessageResponse{Messages: []*model.Message{&msg}})
	})
	r.Post("/v2/apps/app-1/conversations/{conversationID}/activity", func(w http.ResponseWriter, req *http.Request) {
		var ev model.ConversationEvent
		require.NoError(t, json.NewDecoder(req.Body).Decode(&ev))
		if ev.Type == model.EventConversationRead {
			b.readActivity.Add(1)
		}
		writeJSON(w, http.StatusOK, struct{}{})
	})

	b.srv = httptest.NewServer(r)
	b.baseURL.Store(b.srv.URL)
	t.Cleanup(b.srv.Close)
	return b
}

func newTestClient(t *testing.T, backend *testBackend, d *Delegate) (*Client, *stubMonitor) {
	t.Helper()
	monitor := &stubMonitor{}
	client, err := New(Settings{
		IntegrationID: "int-1",
		BaseURL:       backend.srv.URL,
		Debug:         true,
	},
		WithLogger(quietLogger(t)),
		WithMonitorFactory(func(opts realtime.Options, delegate realtime.Delegate) realtime.Monitor {
			monitor.mu.Lock()
			monitor.appID = opts.AppID
			monitor.delegate = delegate
			monitor.mu.Unlock()
			return monitor
		}),
	)
	require.NoError(t, err)
	t.Cleanup(client.Destroy)
	if d != nil {
		client.SetDelegate(d)
	}

	done := make(chan InitializationStatus, 1)
	client.Init(func(status InitializationStatus, _ CallResult) { done <- status })
	select {
	case status := <-done:
		require.Equal(t, InitSuccess, status)
	case <-time.After(5 * time.Second):
		t.Fatal("initialization did not complete")
	}
	return client, monitor
}

func TestNewRequiresIntegrationID(t *testing.T) {
	_, err := New(Settings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integration id")
}

func TestLoginRejectsEmptyExternalIDSynchronously(t *testing.T) {
	client, err := New(Settings{IntegrationID: "int-1"}, WithLogger(quietLogger(t)))
	require.NoError(t, err)
	t.Cleanup(client.Destroy)

	var result CallResult
	called := false
	client.Login("", "jwt", func(r CallResult) {
		called = true
		result = r
	})

	require.True(t, called, "validation failure reports before returning")
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Error(t, result.Err)
}

func TestClientInitAndSend(t *testing.T) {
	backend := newTestBackend(t)

	sent := make(chan *Message, 1)
	client, _ := newTestClient(t, backend, &Delegate{
		OnMessageSent: func(msg *Message, result CallResult) {
			if result.Err == nil {
				sent <- msg
			}
		},
	})

	conv := client.Conversation()
	assert.Equal(t, "c1", conv.ID())
	conv.SendText("hello out there")

	select {
	case msg := <-sent:
		assert.Equal(t, "m-posted", msg.ID)
		assert.Equal(t, model.MessageStatusSent, msg.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("message was never confirmed")
	}

	backend.postedTextsMu.Lock()
	require.Len(t, backend.postedTexts, 1)
	assert.Equal(t, "hello out there", backend.postedTexts[0])
	backend.postedTextsMu.Unlock()

	var texts []string
	for _, m := range conv.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "hello out there")
	assert.Contains(t, texts, "welcome")
}

func TestClientRealtimeUnreadFlow(t *testing.T) {
	backend := newTestBackend(t)

	unread := make(chan int, 8)
	client, monitor := newTestClient(t, backend, &Delegate{
		OnUnreadCountChanged: func(_ string, count int) { unread <- count },
	})

	// Wait for the post-connect refreshes so the pushed message is not
	// clobbered by an in-flight transcript fetch.
	require.Eventually(t, func() bool {
		return len(client.Conversation().Messages()) > 0
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	received := 400.0
	monitor.delegate.OnMessageReceived("c1", &model.Message{
		ID:       "m7",
		AuthorID: "biz",
		Role:     string(model.RoleBusiness),
		Text:     "are you there?",
		Received: &received,
	})

	select {
	case count := <-unread:
		assert.Equal(t, 1, count)
	case <-time.After(5 * time.Second):
		t.Fatal("unread count never changed")
	}
	assert.Equal(t, 1, client.Conversation().UnreadCount())

	client.Conversation().MarkAllAsRead()
	select {
	case count := <-unread:
		assert.Equal(t, 0, count)
	case <-time.After(5 * time.Second):
		t.Fatal("unread count never reset")
	}
	require.Eventually(t, func() bool {
		return backend.readActivity.Load() >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestUserProxyStagesEdits(t *testing.T) {
	backend := newTestBackend(t)
	client, _ := newTestClient(t, backend, nil)

	user := client.User()
	assert.Equal(t, "user-1", user.ID())

	user.SetFirstName("Ada")
	user.SetLastName("Lovelace")
	user.AddMetadata(map[string]any{"plan": "pro"})

	// Edits are visible immediately, before any background sync.
	assert.Equal(t, "Ada", user.FirstName())
	assert.Equal(t, "Lovelace", user.LastName())
	assert.Equal(t, "pro", user.Metadata()["plan"])
}

func TestSetDelegateSwapsAtRuntime(t *testing.T) {
	backend := newTestBackend(t)

	first := make(chan struct{}, 4)
	second := make(chan struct{}, 4)
	client, monitor := newTestClient(t, backend, &Delegate{
		OnMessagesReceived: func(string, []*Message) { first <- struct{}{} },
	})
	require.Eventually(t, func() bool {
		return len(client.Conversation().Messages()) > 0
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	client.SetDelegate(&Delegate{
		OnMessagesReceived: func(string, []*Message) { second <- struct{}{} },
	})

	received := 400.0
	monitor.delegate.OnMessageReceived("c1", &model.Message{
		ID:       "m8",
		AuthorID: "biz",
		Role:     string(model.RoleBusiness),
		Text:     "hi",
		Received: &received,
	})

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("replacement delegate never fired")
	}
	select {
	case <-first:
		t.Fatal("old delegate still receiving callbacks")
	default:
	}
}
