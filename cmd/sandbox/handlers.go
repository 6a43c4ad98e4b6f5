package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/config"
	"github.com/clarabridge/chat-sdk-go/internal/llm"
	"github.com/clarabridge/chat-sdk-go/internal/middleware"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

const maxUploadBytes = 25 * 1024 * 1024

// mediaTypeAllowed rejects executable payloads outright.
func mediaTypeAllowed(contentType string) bool {
	switch contentType {
	case "application/x-msdownload", "application/x-executable", "application/x-sh":
		return false
	}
	return true
}

type sdkUserResponse struct {
	AppUser       *model.AppUser        `json:"appUser,omitempty"`
	Settings      *model.UserSettings   `json:"settings,omitempty"`
	Conversations []*model.Conversation `json:"conversations,omitempty"`
	SessionToken  string                `json:"sessionToken,omitempty"`
}

type conversationResponse struct {
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Messages     []*model.Message    `json:"messages,omitempty"`
}

// handlers serves the SDK-facing REST contract over the in-memory store.
type handlers struct {
	cfg       *config.Config
	store     *store
	publisher *publisher
	responder *responder
	log       *logger.Logger
}

func newHandlers(cfg *config.Config, st *store, pub *publisher, llmClient llm.Client, log *logger.Logger) *handlers {
	h := &handlers{cfg: cfg, store: st, publisher: pub, log: log}
	if llmClient != nil {
		h.responder = &responder{appID: cfg.AppID, client: llmClient, store: st, publisher: pub, log: log}
	}
	return h
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.log.Warn("response encode failed", zap.Error(err))
		}
	}
}

func (h *handlers) signSession(appUserID string) string {
	claims := middleware.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   appUserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.cfg.JWTExpiration)),
		},
		AppID: h.cfg.AppID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		h.log.Error("session sign failed", zap.Error(err))
		return ""
	}
	return signed
}

func (h *handlers) userSettings() *model.UserSettings {
	return &model.UserSettings{
		Realtime: &model.RealtimeSettings{
			Enabled:               true,
			BaseURL:               h.cfg.NATSURL,
			RetryInterval:         15,
			MaxConnectionAttempts: 5,
		},
		Typing:  &model.TypingSettings{Enabled: true},
		Profile: &model.ProfileSettings{Enabled: true, UploadInterval: 5},
	}
}

// getConfig serves the bootstrap config the SDK validates during init.
func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, &model.AppConfig{
		App:                &model.App{ID: h.cfg.AppID, Name: "Sandbox", Status: "active"},
		BaseURL:            h.cfg.BaseURL,
		RetryConfiguration: model.DefaultRetryConfiguration(),
	})
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var profile model.AppUser
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	user := h.store.createUser(&profile)
	h.writeJSON(w, http.StatusCreated, &sdkUserResponse{
		AppUser:      user,
		Settings:     h.userSettings(),
		SessionToken: h.signSession(user.AppUserID),
	})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"userId"`
		AppUserID string `json:"appUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := middleware.ValidateExternalID(body.UserID); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	user := h.store.loginUser(body.UserID, body.AppUserID)
	h.writeJSON(w, http.StatusOK, &sdkUserResponse{
		AppUser:       user,
		Settings:      h.userSettings(),
		Conversations: h.store.conversationsForUser(user.AppUserID),
		SessionToken:  h.signSession(user.AppUserID),
	})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	appUserID := chi.URLParam(r, "appUserID")
	user := h.store.userByID(appUserID)
	if user == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such user"})
		return
	}
	h.writeJSON(w, http.StatusOK, &sdkUserResponse{
		AppUser:       user,
		Settings:      h.userSettings(),
		Conversations: h.store.conversationsForUser(appUserID),
	})
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	appUserID := chi.URLParam(r, "appUserID")
	var patch model.AppUser
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if !h.store.updateUser(appUserID, &patch) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such user"})
		return
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *handlers) createConversation(w http.ResponseWriter, r *http.Request) {
	appUserID := chi.URLParam(r, "appUserID")
	conv := h.store.createConversation(appUserID)
	h.writeJSON(w, http.StatusCreated, &conversationResponse{Conversation: conv})
}

func (h *handlers) getConversation(w http.ResponseWriter, r *http.Request) {
	conv := h.store.conversationByID(chi.URLParam(r, "conversationID"))
	if conv == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such conversation"})
		return
	}
	h.writeJSON(w, http.StatusOK, &conversationResponse{Conversation: conv})
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	appUserID := middleware.GetAppUserID(r.Context())
	conv := h.store.subscribeConversation(conversationID, appUserID)
	if conv == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such conversation"})
		return
	}
	h.writeJSON(w, http.StatusOK, &conversationResponse{Conversation: conv, Messages: conv.Messages})
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	appUserID := chi.URLParam(r, "appUserID")
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversations": h.store.conversationsForUser(appUserID),
	})
}

func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if msg.Type == "" || msg.Type == model.MessageTypeText {
		if err := middleware.ValidateMessageText(msg.Text); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if msg.AuthorID == "" {
		msg.AuthorID = middleware.GetAppUserID(r.Context())
	}
	confirmed := h.store.appendMessage(conversationID, &msg)
	if confirmed == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such conversation"})
		return
	}
	if h.responder != nil {
		go h.responder.reply(context.Background(), conversationID, confirmed)
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"messages": []*model.Message{confirmed},
	})
}

// upload accepts a multipart file and confirms it twice, the way production
// does: a REST body naming the message id, then a realtime upload event with
// the full message.
func (h *handlers) upload(messageType model.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationID")
		appUserID := middleware.GetAppUserID(r.Context())

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
			return
		}
		file, header, err := r.FormFile("source")
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing source part"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read failed"})
			return
		}
		if len(data) > maxUploadBytes {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}
		if !mediaTypeAllowed(header.Header.Get("Content-Type")) {
			// Moderation is asynchronous in production: REST confirms with a
			// message id, the verdict arrives over the rejection subject.
			messageID := uuid.New().String()
			h.publisher.publishRejection(h.cfg.AppID, appUserID, conversationID, messageID, "media_not_allowed")
			h.writeJSON(w, http.StatusCreated, map[string]string{"messageId": messageID})
			return
		}

		confirmed := h.store.appendMessage(conversationID, &model.Message{
			AuthorID:  appUserID,
			Role:      string(model.RoleAppUser),
			Type:      messageType,
			MediaURL:  h.cfg.BaseURL + "/media/" + header.Filename,
			MediaType: header.Header.Get("Content-Type"),
			MediaSize: int64(len(data)),
		})
		if confirmed == nil {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such conversation"})
			return
		}
		h.publisher.publishUpload(h.cfg.AppID, appUserID, conversationID, confirmed)
		h.writeJSON(w, http.StatusCreated, map[string]string{"messageId": confirmed.ID})
	}
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var ev model.ConversationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	ev.ConversationID = conversationID
	sender := middleware.GetAppUserID(r.Context())
	if ev.Type == model.EventConversationRead {
		ev.LastRead = h.store.markRead(conversationID, sender)
	}
	// Echo the event at the other participants' monitors.
	if conv := h.store.conversationByID(conversationID); conv != nil {
		for _, p := range conv.Participants {
			if p.AppUserID != "" && p.AppUserID != sender {
				h.publisher.publishActivity(h.cfg.AppID, p.AppUserID, &ev)
			}
		}
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *handlers) postback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActionID string `json:"actionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ActionID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actionId required"})
		return
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *handlers) pushToken(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, struct{}{})
}
