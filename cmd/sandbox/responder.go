package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/llm"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

// responder generates a business-side reply to each inbound text message and
// delivers it over the realtime channel, giving the SDK something to
// reconcile.
type responder struct {
	appID     string
	client    llm.Client
	store     *store
	publisher *publisher
	log       *logger.Logger
}

func (r *responder) reply(ctx context.Context, conversationID string, inbound *model.Message) {
	if inbound.Type != model.MessageTypeText || inbound.Text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: "user", Content: inbound.Text},
		},
		MaxTokens: 512,
	})
	if err != nil {
		r.log.Warn("auto-reply failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}

	reply := r.store.appendMessage(conversationID, &model.Message{
		AuthorID: "sandbox-bot",
		Name:     "Sandbox",
		Role:     string(model.RoleBusiness),
		Type:     model.MessageTypeText,
		Text:     resp.Content,
	})
	if reply == nil {
		return
	}
	conv := r.store.conversationByID(conversationID)
	if conv == nil {
		return
	}
	for _, p := range conv.Participants {
		if p.AppUserID != "" {
			r.publisher.publishMessage(r.appID, p.AppUserID, conversationID, reply)
		}
	}
}
