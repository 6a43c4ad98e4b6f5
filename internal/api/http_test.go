package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

func newTestClient(t *testing.T, creds CredentialsProvider, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log, err := logger.New("error")
	require.NoError(t, err)
	c := NewHTTPClient(srv.URL, creds, log)
	c.SetAppID("app-1")
	return c
}

func TestGetConfigDecodesPayload(t *testing.T) {
	c := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdk/v2/integrations/app-1/config", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"app":{"_id":"app-1","status":"active"},"baseUrl":"https://example.com"}`))
	})

	cfg, status, err := c.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, cfg.App)
	assert.Equal(t, "active", cfg.App.Status)
	assert.Equal(t, "https://example.com", cfg.BaseURL)
}

func TestAuthHeaderPrefersJWT(t *testing.T) {
	creds := func() Credentials {
		return Credentials{JWT: "the-jwt", SessionToken: "the-session", AppUserID: "user-1"}
	}
	c := newTestClient(t, creds, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer the-jwt", r.Header.Get("Authorization"))
		assert.Equal(t, "user-1", r.Header.Get("x-app-user-id"))
		w.Write([]byte(`{}`))
	})
	_, _, err := c.GetAppUser(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestAuthHeaderFallsBackToSessionToken(t *testing.T) {
	creds := func() Credentials { return Credentials{SessionToken: "the-session"} }
	c := newTestClient(t, creds, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic the-session", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	})
	_, _, err := c.GetAppUser(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestErrorStatusPropagates(t *testing.T) {
	c := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	cfg, status, err := c.GetConfig(context.Background())
	assert.Nil(t, cfg)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Error(t, err)
}

func TestTransportFailureReportsStatusZero(t *testing.T) {
	log, err := logger.New("error")
	require.NoError(t, err)
	c := NewHTTPClient("http://127.0.0.1:1", nil, log)
	c.SetAppID("app-1")

	_, status, err := c.GetConfig(context.Background())
	assert.Equal(t, 0, status, "status 0 marks a request that never reached the server")
	assert.Error(t, err)
}

func TestPostMessageSendsBodyAndDecodesReply(t *testing.T) {
	c := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/apps/app-1/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"messages":[{"_id":"m1","text":"hi","received":100.5}]}`))
	})

	resp, status, err := c.PostMessage(context.Background(), "c1", &model.Message{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "m1", resp.Messages[0].ID)
	require.NotNil(t, resp.Messages[0].Received)
	assert.Equal(t, 100.5, *resp.Messages[0].Received)
}

func TestUploadImageMultipart(t *testing.T) {
	c := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/apps/app-1/conversations/c1/images", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("source")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.png", header.Filename)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"messageId":"m-upload"}`))
	})

	resp, status, err := c.UploadImage(context.Background(), "c1", &Upload{
		Name:      "photo.png",
		MediaType: "image/png",
		Data:      []byte("pngbytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "m-upload", resp.MessageID)
}

func TestUploadRejectsOversizedPayloadLocally(t *testing.T) {
	served := false
	c := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		served = true
	})

	_, status, err := c.UploadFile(context.Background(), "c1", &Upload{
		Name: "big.bin",
		Data: make([]byte, MaxUploadBytes+1),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Error(t, err)
	assert.False(t, served, "oversized payloads never hit the wire")
}

func TestLoginBodyShape(t *testing.T) {
	c := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/apps/app-1/login", r.URL.Path)
		w.Write([]byte(`{"appUser":{"_id":"user-1","userId":"ext-1"},"sessionToken":"sess-1"}`))
	})

	user, status, err := c.Login(context.Background(), "ext-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, user.AppUser)
	assert.Equal(t, "user-1", user.AppUser.AppUserID)
	assert.Equal(t, "sess-1", user.SessionToken)
}
