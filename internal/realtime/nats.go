package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
	"github.com/clarabridge/chat-sdk-go/pkg/metrics"
)

const (
	subjectMessage   = "message"
	subjectActivity  = "activity"
	subjectRejection = "rejection"
	subjectUpload    = "upload"
)

// NATSMonitor is the production Monitor. One connection, four subscriptions
// under chat.<appID>.<appUserID>.*.
type NATSMonitor struct {
	opts     Options
	delegate Delegate
	log      *logger.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	paused bool
	closed bool
}

// NewNATSMonitor builds a monitor. It does not connect; call Resume.
func NewNATSMonitor(opts Options, delegate Delegate, log *logger.Logger) *NATSMonitor {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 15
	}
	if opts.MaxConnectionAttempts <= 0 {
		opts.MaxConnectionAttempts = 5
	}
	return &NATSMonitor{opts: opts, delegate: delegate, log: log, paused: true}
}

func (m *NATSMonitor) AppID() string { return m.opts.AppID }

func (m *NATSMonitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.IsConnected()
}

// Resume brings the connection up, after the configured connection delay.
func (m *NATSMonitor) Resume() {
	m.mu.Lock()
	if m.closed || !m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = false
	delay := time.Duration(m.opts.ConnectionDelay) * time.Second
	m.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		m.connect()
	}()
}

func (m *NATSMonitor) connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.paused || m.conn != nil {
		return
	}

	conn, err := nats.Connect(m.opts.URL,
		nats.MaxReconnects(m.opts.MaxConnectionAttempts),
		nats.ReconnectWait(time.Duration(m.opts.RetryInterval)*time.Second),
		nats.ConnectHandler(func(*nats.Conn) {
			m.delegate.OnMonitorConnected()
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			m.log.Info("realtime reconnected", zap.String("app_id", m.opts.AppID))
			m.delegate.OnMonitorConnected()
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.log.Warn("realtime disconnected", zap.Error(err))
			m.delegate.OnMonitorDisconnected()
		}),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		m.log.Error("realtime connect failed", zap.Error(err))
		return
	}
	m.conn = conn

	prefix := "chat." + m.opts.AppID + "." + m.opts.AppUserID + "."
	for subject, handler := range map[string]nats.MsgHandler{
		prefix + subjectMessage:   m.onMessage,
		prefix + subjectActivity:  m.onActivity,
		prefix + subjectRejection: m.onRejection,
		prefix + subjectUpload:    m.onUpload,
	} {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			m.log.Error("realtime subscribe failed",
				zap.String("subject", subject),
				zap.Error(err))
			continue
		}
		m.subs = append(m.subs, sub)
	}
}

// Pause tears the connection down but leaves the monitor resumable.
func (m *NATSMonitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return
	}
	m.paused = true
	m.teardownLocked()
}

// Close shuts the monitor down for good.
func (m *NATSMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.teardownLocked()
}

func (m *NATSMonitor) teardownLocked() {
	for _, sub := range m.subs {
		_ = sub.Unsubscribe()
	}
	m.subs = nil
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *NATSMonitor) onMessage(msg *nats.Msg) {
	var env messageEnvelope
	if !m.decode(subjectMessage, msg.Data, &env) || env.Message == nil {
		return
	}
	metrics.RecordRealtimeEvent(subjectMessage)
	m.delegate.OnMessageReceived(env.ConversationID, env.Message)
}

func (m *NATSMonitor) onActivity(msg *nats.Msg) {
	var ev model.ConversationEvent
	if !m.decode(subjectActivity, msg.Data, &ev) {
		return
	}
	metrics.RecordRealtimeEvent(string(ev.Type))
	m.delegate.OnConversationActivityReceived(&ev)
}

func (m *NATSMonitor) onRejection(msg *nats.Msg) {
	var env messageEnvelope
	if !m.decode(subjectRejection, msg.Data, &env) || env.Message == nil {
		return
	}
	metrics.RecordRealtimeEvent(subjectRejection)
	m.delegate.OnMessageRejected(env.ConversationID, env.Message.ID, env.ErrorCode)
}

func (m *NATSMonitor) onUpload(msg *nats.Msg) {
	var env messageEnvelope
	if !m.decode(subjectUpload, msg.Data, &env) || env.Message == nil {
		return
	}
	metrics.RecordRealtimeEvent(subjectUpload)
	m.delegate.OnUploadComplete(env.ConversationID, env.Message)
}

func (m *NATSMonitor) decode(subject string, data []byte, out any) bool {
	if err := json.Unmarshal(data, out); err != nil {
		m.log.Warn("realtime payload undecodable",
			zap.String("subject", subject),
			zap.Error(err))
		return false
	}
	return true
}

var _ Monitor = (*NATSMonitor)(nil)
