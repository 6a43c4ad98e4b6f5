package main

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

// publisher pushes realtime events at connected SDK monitors over NATS,
// using the same subject layout they subscribe on.
type publisher struct {
	conn *nats.Conn
	log  *logger.Logger
}

func newPublisher(conn *nats.Conn, log *logger.Logger) *publisher {
	return &publisher{conn: conn, log: log}
}

type messageEnvelope struct {
	ConversationID string         `json:"conversationId"`
	Message        *model.Message `json:"message"`
	ErrorCode      string         `json:"errorCode,omitempty"`
}

func (p *publisher) publish(subject string, payload any) {
	if p.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("event encode failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *publisher) publishMessage(appID, appUserID, conversationID string, msg *model.Message) {
	p.publish("chat."+appID+"."+appUserID+".message", &messageEnvelope{
		ConversationID: conversationID,
		Message:        msg,
	})
}

func (p *publisher) publishUpload(appID, appUserID, conversationID string, msg *model.Message) {
	p.publish("chat."+appID+"."+appUserID+".upload", &messageEnvelope{
		ConversationID: conversationID,
		Message:        msg,
	})
}

func (p *publisher) publishRejection(appID, appUserID, conversationID, messageID, errorCode string) {
	p.publish("chat."+appID+"."+appUserID+".rejection", &messageEnvelope{
		ConversationID: conversationID,
		Message:        &model.Message{ID: messageID},
		ErrorCode:      errorCode,
	})
}

func (p *publisher) publishActivity(appID, appUserID string, ev *model.ConversationEvent) {
	p.publish("chat."+appID+"."+appUserID+".activity", ev)
}
