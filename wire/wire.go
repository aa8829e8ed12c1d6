// Package wire defines the JSON frame envelope for the marketplace push
// protocol and builders for every outbound frame type. Both the session
// client and its tests build frames through this package.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LWP paths understood by the gateway.
const (
	PathRegister  = "/reg"
	PathHeartbeat = "/!"
	PathSyncAck   = "/r/SyncStatus/ackDiff"
	PathChatSend  = "/r/MessageSend/sendByReceiverScope"
)

// AddrSuffix is appended to user and conversation ids in wire addresses.
const AddrSuffix = "@im"

// Static handshake headers. The gateway rejects registrations without them.
const (
	defaultUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/133.0.0.0 Safari/537.36"
	deviceType  = "j"
	wireVersion = "im:3,au:3,sy:6"
)

var ErrEmptyFrame = errors.New("wire: empty frame")

// Envelope is one frame on the socket, inbound or outbound. Inbound frames
// carry either an lwp path (server push) or a code (response to one of our
// sends). Header values are kept loosely typed because the gateway is not
// consistent about them.
type Envelope struct {
	LWP     string          `json:"lwp,omitempty"`
	Code    int             `json:"code,omitempty"`
	Headers map[string]any  `json:"headers,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Decode parses a raw text frame into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serialises an envelope for the socket.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Header returns the named header as a string, or "" if absent or not a
// string.
func (e *Envelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	s, _ := e.Headers[key].(string)
	return s
}

// Mid returns the frame's correlation id, if any.
func (e *Envelope) Mid() string { return e.Header("mid") }

// NeedsAck reports whether the frame must be acknowledged. Server pushes
// carry a mid and expect it mirrored back; code-bearing frames are
// responses to our own sends and are never acked.
func (e *Envelope) NeedsAck() bool {
	return e.Code == 0 && e.Mid() != ""
}

// IsAck reports whether the frame is an acknowledgement of one of our
// sends (heartbeats included).
func (e *Envelope) IsAck() bool {
	return e.Code == 200 && e.Mid() != ""
}

// Ack builds the acknowledgement for an inbound frame, mirroring its mid
// and sid plus the identifying headers the gateway echoes back.
func Ack(in *Envelope) *Envelope {
	headers := map[string]any{
		"mid": in.Mid(),
		"sid": in.Header("sid"),
	}
	for _, key := range []string{"app-key", "ua", "dt"} {
		if v := in.Header(key); v != "" {
			headers[key] = v
		}
	}
	return &Envelope{Code: 200, Headers: headers}
}

// Heartbeat builds a liveness frame with a fresh correlation id.
func Heartbeat(mid string) *Envelope {
	return &Envelope{
		LWP:     PathHeartbeat,
		Headers: map[string]any{"mid": mid},
	}
}

// Register builds the registration handshake frame.
func Register(appKey, token, deviceID, mid string) *Envelope {
	return &Envelope{
		LWP: PathRegister,
		Headers: map[string]any{
			"cache-header": "app-key token ua wv",
			"app-key":      appKey,
			"token":        token,
			"ua":           defaultUA,
			"dt":           deviceType,
			"wv":           wireVersion,
			"sync":         "0,0;0;0;",
			"did":          deviceID,
			"mid":          mid,
		},
	}
}

// SyncAck builds the batched-update acknowledgement sent right after
// registration so the gateway starts pushing from the current point.
func SyncAck(mid string, now time.Time) *Envelope {
	ms := now.UnixMilli()
	body, _ := json.Marshal([]map[string]any{{
		"pipeline":    "sync",
		"tooLong2Tag": "PNM,1",
		"channel":     "sync",
		"topic":       "sync",
		"highPts":     0,
		"pts":         ms * 1000,
		"seq":         0,
		"timestamp":   ms,
	}})
	return &Envelope{
		LWP:     PathSyncAck,
		Headers: map[string]any{"mid": mid},
		Body:    body,
	}
}

// ChatSend wraps text in a base64 JSON payload inside a send-by-receiver-
// scope envelope addressed to both the counterpart and the own identity.
func ChatSend(mid, conversationID, toUserID, ownUserID, text string) *Envelope {
	payload, _ := json.Marshal(map[string]any{
		"contentType": 1,
		"text":        map[string]string{"text": text},
	})
	encoded := base64.StdEncoding.EncodeToString(payload)

	body, _ := json.Marshal([]map[string]any{{
		"uuid":             uuid.NewString(),
		"cid":              Addr(conversationID),
		"conversationType": 1,
		"content": map[string]any{
			"contentType": 101,
			"custom":      map[string]any{"type": 1, "data": encoded},
		},
		"redPointPolicy":       0,
		"extension":            map[string]string{"extJson": "{}"},
		"ctx":                  map[string]string{"appVersion": "1.0", "platform": "web"},
		"mtags":                map[string]any{},
		"msgReadStatusSetting": 1,
	}, {
		"actualReceivers": []string{Addr(toUserID), Addr(ownUserID)},
	}})

	return &Envelope{
		LWP:     PathChatSend,
		Headers: map[string]any{"mid": mid},
		Body:    body,
	}
}

// Addr converts a bare id to its wire address form.
func Addr(id string) string {
	if strings.HasSuffix(id, AddrSuffix) {
		return id
	}
	return id + AddrSuffix
}

// BareID strips the address suffix (and any other @-domain) from a wire
// address.
func BareID(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}
