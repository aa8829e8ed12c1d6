package flealive

import (
	"time"

	"github.com/google/uuid"
)

// Config holds session parameters. Zero values fall back to the defaults
// documented per field.
type Config struct {
	Endpoint  string // WebSocket URL of the messaging gateway
	AppKey    string // application key sent on registration and acks
	UserID    string // own account identity; own messages are self-echoes
	DeviceID  string // derived from UserID if empty
	SecretKey string // hex key for payload decryption
	Cookie    string // web session cookie forwarded on dial and API calls

	HeartbeatInterval    time.Duration // default 15s
	HeartbeatTimeout     time.Duration // default 5s
	TokenRefreshInterval time.Duration // default 1h
	TokenRetryInterval   time.Duration // default 5m
	TakeoverTTL          time.Duration // default 1h
	MessageExpire        time.Duration // default 5m
	ReconnectDelay       time.Duration // default 5s

	TogglePhrases  []string // default ["."]
	Workers        int64    // reply pool size; <= 0 picks a CPU-based default
	ProfileURLBase string   // buyer profile link prefix for notifications
}

func (c Config) withDefaults() Config {
	if c.DeviceID == "" && c.UserID != "" {
		c.DeviceID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(c.UserID)).String()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.TokenRefreshInterval <= 0 {
		c.TokenRefreshInterval = time.Hour
	}
	if c.TokenRetryInterval <= 0 {
		c.TokenRetryInterval = 5 * time.Minute
	}
	if c.TakeoverTTL <= 0 {
		c.TakeoverTTL = time.Hour
	}
	if c.MessageExpire <= 0 {
		c.MessageExpire = 5 * time.Minute
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if len(c.TogglePhrases) == 0 {
		c.TogglePhrases = []string{"."}
	}
	return c
}
