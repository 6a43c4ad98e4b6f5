package model

// App describes the integration as reported by the remote config endpoint.
type App struct {
	ID     string `json:"_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// Integration is one channel integration attached to the app.
type Integration struct {
	Type     string `json:"type,omitempty"`
	SenderID string `json:"senderId,omitempty"`
}

// AppConfig is the process-wide remote configuration, fetched once per
// initialization and treated as read-only afterwards.
type AppConfig struct {
	App                *App                `json:"app,omitempty"`
	BaseURL            string              `json:"baseUrl,omitempty"`
	Integrations       []Integration       `json:"integrations,omitempty"`
	RetryConfiguration *RetryConfiguration `json:"retryConfiguration,omitempty"`
}

// RetryConfiguration controls initialization retry backoff. Intervals are in
// seconds; the aggressive interval applies while the conversation UI is
// visible to the user.
type RetryConfiguration struct {
	Intervals         RetryIntervals `json:"intervals"`
	BackoffMultiplier float64        `json:"backoffMultiplier"`
	MaxRetries        int            `json:"maxRetries"`
}

// RetryIntervals holds the base delays for retry backoff, in seconds.
type RetryIntervals struct {
	Regular    int `json:"regular"`
	Aggressive int `json:"aggressive"`
}

// DefaultRetryConfiguration mirrors the backend defaults used before a
// config has been fetched.
func DefaultRetryConfiguration() *RetryConfiguration {
	return &RetryConfiguration{
		Intervals:         RetryIntervals{Regular: 60, Aggressive: 15},
		BackoffMultiplier: 2,
		MaxRetries:        5,
	}
}

// RealtimeSettings configures the realtime channel for the current user.
type RealtimeSettings struct {
	Enabled               bool   `json:"enabled"`
	BaseURL               string `json:"baseUrl,omitempty"`
	RetryInterval         int    `json:"retryInterval,omitempty"`
	MaxConnectionAttempts int    `json:"maxConnectionAttempts,omitempty"`
	ConnectionDelay       int    `json:"connectionDelay,omitempty"`
}

// TypingSettings configures typing activity for the current user.
type TypingSettings struct {
	Enabled bool `json:"enabled"`
}

// ProfileSettings configures the debounced profile sync.
type ProfileSettings struct {
	Enabled        bool `json:"enabled"`
	UploadInterval int  `json:"uploadInterval,omitempty"`
}

// UserSettings are per-user settings delivered with the user payload.
type UserSettings struct {
	Realtime *RealtimeSettings `json:"realtime,omitempty"`
	Typing   *TypingSettings   `json:"typing,omitempty"`
	Profile  *ProfileSettings  `json:"profile,omitempty"`
}
