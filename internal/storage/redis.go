package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
)

const redisOpTimeout = 5 * time.Second

// Redis is a Facade backed by a Redis instance, for host applications that
// want SDK state shared across processes. Keys are namespaced as
// clarabridge:<integrationID>:<key>. I/O failures are logged and surface to
// callers as missing data.
type Redis struct {
	client *redis.Client
	log    *logger.Logger

	mu            sync.RWMutex
	integrationID string
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) SetIntegrationID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrationID = id
}

func (r *Redis) key(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return "clarabridge:" + r.integrationID + ":" + name
}

func (r *Redis) getString(name string) string {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	val, err := r.client.Get(ctx, r.key(name)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Error("redis get failed", zap.String("key", name), zap.Error(err))
		}
		return ""
	}
	return val
}

func (r *Redis) setString(name, val string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	var err error
	if val == "" {
		err = r.client.Del(ctx, r.key(name)).Err()
	} else {
		err = r.client.Set(ctx, r.key(name), val, 0).Err()
	}
	if err != nil {
		r.log.Error("redis set failed", zap.String("key", name), zap.Error(err))
	}
}

func (r *Redis) getJSON(name string, out any) bool {
	raw := r.getString(name)
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		r.log.Error("redis value corrupt", zap.String("key", name), zap.Error(err))
		return false
	}
	return true
}

func (r *Redis) setJSON(name string, val any) {
	if val == nil {
		r.setString(name, "")
		return
	}
	raw, err := json.Marshal(val)
	if err != nil {
		r.log.Error("redis value marshal failed", zap.String("key", name), zap.Error(err))
		return
	}
	r.setString(name, string(raw))
}

func (r *Redis) AppID() string        { return r.getString("appId") }
func (r *Redis) SaveAppID(id string)  { r.setString("appId", id) }
func (r *Redis) JWT() string          { return r.getString("jwt") }
func (r *Redis) SaveJWT(jwt string)   { r.setString("jwt", jwt) }
func (r *Redis) SessionToken() string { return r.getString("sessionToken") }
func (r *Redis) SaveSessionToken(token string) {
	r.setString("sessionToken", token)
}
func (r *Redis) AppUserID() string       { return r.getString("appUserId") }
func (r *Redis) SaveAppUserID(id string) { r.setString("appUserId", id) }

func (r *Redis) AppUserLocal() *model.AppUser {
	var u model.AppUser
	if !r.getJSON("appUserLocal", &u) {
		return nil
	}
	return &u
}

func (r *Redis) SaveAppUserLocal(user *model.AppUser) {
	if user == nil {
		r.setString("appUserLocal", "")
		return
	}
	r.setJSON("appUserLocal", user)
}

func (r *Redis) AppUserRemote() *model.AppUser {
	var u model.AppUser
	if !r.getJSON("appUserRemote", &u) {
		return nil
	}
	return &u
}

func (r *Redis) SaveAppUserRemote(user *model.AppUser) {
	if user == nil {
		r.setString("appUserRemote", "")
		return
	}
	r.setJSON("appUserRemote", user)
}

func (r *Redis) ConversationByID(id string) *model.Conversation {
	var c model.Conversation
	if !r.getJSON("conversation:"+id, &c) {
		return nil
	}
	return &c
}

func (r *Redis) SaveConversationByID(id string, conv *model.Conversation) {
	if conv == nil {
		r.setString("conversation:"+id, "")
		return
	}
	// Clone under the conversation lock so marshaling sees a stable list.
	r.setJSON("conversation:"+id, conv.Clone())
}

func (r *Redis) ConversationsList() []*model.Conversation {
	var list []*model.Conversation
	if !r.getJSON("conversationsList", &list) {
		return nil
	}
	return list
}

func (r *Redis) SaveConversationsList(convs []*model.Conversation) {
	if convs == nil {
		r.setString("conversationsList", "")
		return
	}
	cloned := make([]*model.Conversation, len(convs))
	for i, c := range convs {
		cloned[i] = c.Clone()
	}
	r.setJSON("conversationsList", cloned)
}

func (r *Redis) UserSettings() *model.UserSettings {
	var s model.UserSettings
	if !r.getJSON("userSettings", &s) {
		return nil
	}
	return &s
}

func (r *Redis) SaveUserSettings(settings *model.UserSettings) {
	if settings == nil {
		r.setString("userSettings", "")
		return
	}
	r.setJSON("userSettings", settings)
}

func (r *Redis) RetryConfiguration() *model.RetryConfiguration {
	var c model.RetryConfiguration
	if !r.getJSON("retryConfiguration", &c) {
		return nil
	}
	return &c
}

func (r *Redis) SaveRetryConfiguration(cfg *model.RetryConfiguration) {
	if cfg == nil {
		r.setString("retryConfiguration", "")
		return
	}
	r.setJSON("retryConfiguration", cfg)
}

var _ Facade = (*Redis)(nil)
