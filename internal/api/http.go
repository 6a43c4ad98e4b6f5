package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
	"github.com/clarabridge/chat-sdk-go/pkg/metrics"
)

// MaxUploadBytes is the backend's upload ceiling. Oversized payloads are
// rejected locally with the same 413 status the server would return, before
// any bytes hit the wire.
const MaxUploadBytes = 25 * 1024 * 1024

const clientVersion = "clarabridge-chat-go/1.0.0"

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	httpClient  *http.Client
	log         *logger.Logger
	credentials CredentialsProvider

	mu      sync.RWMutex
	baseURL string
	appID   string
}

// NewHTTPClient builds a client against baseURL. creds may be nil when no
// authenticated calls will be made.
func NewHTTPClient(baseURL string, creds CredentialsProvider, log *logger.Logger) *HTTPClient {
	if creds == nil {
		creds = func() Credentials { return Credentials{} }
	}
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         log,
		credentials: creds,
		baseURL:     baseURL,
	}
}

func (c *HTTPClient) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = url
}

func (c *HTTPClient) SetAppID(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appID = appID
}

func (c *HTTPClient) url(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL + path
}

func (c *HTTPClient) appPath(format string, args ...any) string {
	c.mu.RLock()
	appID := c.appID
	c.mu.RUnlock()
	return "/v2/apps/" + appID + fmt.Sprintf(format, args...)
}

// do runs one round trip. A nil out skips body decoding. The returned status
// is 0 when the request never reached the server.
func (c *HTTPClient) do(ctx context.Context, operation, method, path string, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	return c.roundTrip(req, operation, out)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-version", clientVersion)
	creds := c.credentials()
	if creds.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+creds.JWT)
	} else if creds.SessionToken != "" {
		req.Header.Set("Authorization", "Basic "+creds.SessionToken)
	}
	if creds.AppUserID != "" {
		req.Header.Set("x-app-user-id", creds.AppUserID)
	}
}

func (c *HTTPClient) roundTrip(req *http.Request, operation string, out any) (int, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(operation, "0").Observe(time.Since(start).Seconds())
		c.log.Warn("request failed",
			zap.String("operation", operation),
			zap.Error(err))
		return 0, fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	metrics.APIRequestDuration.
		WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%s: status %d", operation, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", operation, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *HTTPClient) GetConfig(ctx context.Context) (*model.AppConfig, int, error) {
	c.mu.RLock()
	appID := c.appID
	c.mu.RUnlock()
	var cfg model.AppConfig
	status, err := c.do(ctx, "get_config", http.MethodGet, "/sdk/v2/integrations/"+appID+"/config", nil, &cfg)
	if err != nil {
		return nil, status, err
	}
	return &cfg, status, nil
}

func (c *HTTPClient) CreateUser(ctx context.Context, user *model.AppUser, intent string) (*SdkUser, int, error) {
	body := struct {
		*model.AppUser
		Intent string `json:"intent,omitempty"`
	}{AppUser: user, Intent: intent}
	var out SdkUser
	status, err := c.do(ctx, "create_user", http.MethodPost, c.appPath("/appusers"), body, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) Login(ctx context.Context, userID, sessionToken, appUserID string) (*SdkUser, int, error) {
	body := map[string]string{"userId": userID}
	if sessionToken != "" {
		body["sessionToken"] = sessionToken
	}
	if appUserID != "" {
		body["appUserId"] = appUserID
	}
	var out SdkUser
	status, err := c.do(ctx, "login", http.MethodPost, c.appPath("/login"), body, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) Logout(ctx context.Context) (int, error) {
	creds := c.credentials()
	return c.do(ctx, "logout", http.MethodPost, c.appPath("/appusers/%s/logout", creds.AppUserID), struct{}{}, nil)
}

func (c *HTTPClient) GetAppUser(ctx context.Context, appUserID string) (*SdkUser, int, error) {
	var out SdkUser
	status, err := c.do(ctx, "get_app_user", http.MethodGet, c.appPath("/appusers/%s", appUserID), nil, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) UpdateAppUser(ctx context.Context, appUserID string, user *model.AppUser) (int, error) {
	return c.do(ctx, "update_app_user", http.MethodPut, c.appPath("/appusers/%s", appUserID), user, nil)
}

func (c *HTTPClient) ConsumeAuthCode(ctx context.Context, authCode string) (*SdkUser, int, error) {
	body := map[string]string{"authCode": authCode}
	var out SdkUser
	status, err := c.do(ctx, "consume_auth_code", http.MethodPost, c.appPath("/authcode"), body, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) UpgradeAppUser(ctx context.Context, clientID string) (*UpgradeResponse, int, error) {
	body := map[string]string{"clientId": clientID}
	var out UpgradeResponse
	status, err := c.do(ctx, "upgrade_app_user", http.MethodPost, c.appPath("/appusers/upgrade"), body, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) CreateConversation(ctx context.Context, appUserID, intent string) (*ConversationResponse, int, error) {
	body := map[string]string{}
	if intent != "" {
		body["intent"] = intent
	}
	var out ConversationResponse
	status, err := c.do(ctx, "create_conversation", http.MethodPost, c.appPath("/appusers/%s/conversations", appUserID), body, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) GetConversation(ctx context.Context, conversationID string) (*ConversationResponse, int, error) {
	var out ConversationResponse
	status, err := c.do(ctx, "get_conversation", http.MethodGet, c.appPath("/conversations/%s", conversationID), nil, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) GetConversations(ctx context.Context, appUserID string) (*ConversationsListResponse, int, error) {
	var out ConversationsListResponse
	status, err := c.do(ctx, "get_conversations", http.MethodGet, c.appPath("/appusers/%s/conversations", appUserID), nil, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) Subscribe(ctx context.Context, conversationID string) (*ConversationResponse, int, error) {
	var out ConversationResponse
	status, err := c.do(ctx, "subscribe", http.MethodPost, c.appPath("/conversations/%s/subscribe", conversationID), struct{}{}, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) PostMessage(ctx context.Context, conversationID string, msg *model.Message) (*PostMessageResponse, int, error) {
	var out PostMessageResponse
	status, err := c.do(ctx, "post_message", http.MethodPost, c.appPath("/conversations/%s/messages", conversationID), msg, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) UploadImage(ctx context.Context, conversationID string, upload *Upload) (*FileUploadResponse, int, error) {
	return c.upload(ctx, "upload_image", c.appPath("/conversations/%s/images", conversationID), "source", upload)
}

func (c *HTTPClient) UploadFile(ctx context.Context, conversationID string, upload *Upload) (*FileUploadResponse, int, error) {
	return c.upload(ctx, "upload_file", c.appPath("/conversations/%s/files", conversationID), "source", upload)
}

func (c *HTTPClient) upload(ctx context.Context, operation, path, field string, up *Upload) (*FileUploadResponse, int, error) {
	if len(up.Data) > MaxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge,
			fmt.Errorf("%s: payload %d bytes exceeds limit", operation, len(up.Data))
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, up.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", operation, err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", operation, err)
	}
	if err := w.Close(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", operation, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setHeaders(req)

	var out FileUploadResponse
	status, err := c.roundTrip(req, operation, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (c *HTTPClient) SendConversationActivity(ctx context.Context, conversationID string, ev *model.ConversationEvent) (int, error) {
	return c.do(ctx, "conversation_activity", http.MethodPost, c.appPath("/conversations/%s/activity", conversationID), ev, nil)
}

func (c *HTTPClient) Postback(ctx context.Context, conversationID string, action *model.MessageAction) (int, error) {
	body := map[string]any{"actionId": action.ID}
	if action.Payload != "" {
		body["payload"] = action.Payload
	}
	return c.do(ctx, "postback", http.MethodPost, c.appPath("/conversations/%s/postback", conversationID), body, nil)
}

func (c *HTTPClient) UpdatePushToken(ctx context.Context, appUserID, integrationID, token string) (int, error) {
	body := map[string]string{"integrationId": integrationID, "token": token}
	return c.do(ctx, "update_push_token", http.MethodPut, c.appPath("/appusers/%s/pushToken", appUserID), body, nil)
}

var _ Client = (*HTTPClient)(nil)
