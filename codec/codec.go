package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flealive/flealive/wire"
)

var (
	ErrDecrypt   = fmt.Errorf("codec: payload decrypt failed")
	ErrMalformed = fmt.Errorf("codec: malformed payload")
)

// Codec classifies inbound envelopes into events. Encrypted payloads are
// opened with AES-GCM under the session secret.
type Codec struct {
	aead cipher.AEAD
}

// New creates a Codec from a hex-encoded AES key (16, 24 or 32 bytes).
func New(secretKey string) (*Codec, error) {
	key, err := hex.DecodeString(secretKey)
	if err != nil {
		return nil, fmt.Errorf("codec: bad secret key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: bad secret key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Classify maps an envelope to exactly one event. It never panics: frames
// without a usable payload come back as KindUnrecognized, and the only
// error it reports is a decrypt or parse failure (the event is still
// Unrecognized so the caller can log and drop).
func (c *Codec) Classify(env *wire.Envelope) (Event, error) {
	if env == nil {
		return unrecognized(), nil
	}
	if env.IsAck() {
		return Event{Kind: KindHeartbeatAck, Mid: env.Mid()}, nil
	}

	payload, ok := syncPayload(env)
	if !ok {
		return unrecognized(), nil
	}

	doc, err := c.open(payload)
	if err != nil {
		return unrecognized(), err
	}
	if doc == nil {
		// Plaintext control chatter, nothing to dispatch.
		return unrecognized(), nil
	}
	return classifyDoc(doc), nil
}

// syncPayload extracts the inner data string from a batched-update
// envelope. Frames that are not sync packages have no payload.
func syncPayload(env *wire.Envelope) (string, bool) {
	if len(env.Body) == 0 {
		return "", false
	}
	var body map[string]any
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return "", false
	}
	pkg := getMap(body, "syncPushPackage")
	entries, _ := pkg["data"].([]any)
	if len(entries) == 0 {
		return "", false
	}
	first, _ := entries[0].(map[string]any)
	data := getString(first, "data")
	return data, data != ""
}

// open resolves the maybe-already-plaintext payload. A payload whose
// base64 decoding is itself valid JSON is control chatter and yields a nil
// document; anything else must decrypt and parse, or the frame is dropped.
// The plaintext probe failing is a normal branch, not an error.
func (c *Codec) open(payload string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64: %v", ErrMalformed, err)
	}
	if json.Valid(raw) {
		return nil, nil
	}

	if len(raw) <= c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("%w: decrypted payload not json: %v", ErrMalformed, err)
	}
	return doc, nil
}

// classifyDoc applies the classification precedence: order status, then
// typing indicator, then chat message, then system notice. Anything else
// is unrecognized.
func classifyDoc(doc map[string]any) Event {
	if label := digString(doc, "3", "redReminder"); label != "" {
		id := wire.BareID(getString(doc, "1"))
		return Event{Kind: KindOrderStatus, Order: &OrderStatus{
			ConversationID: id,
			BuyerID:        id,
			StatusLabel:    label,
			ItemTitle:      digString(doc, "3", "title"),
			Price:          anyString(getMap(doc, "3")["price"]),
		}}
	}

	if isTyping(doc) {
		return Event{Kind: KindTypingStatus}
	}

	if chat, ok := chatFromDoc(doc); ok {
		return Event{Kind: KindChatMessage, Chat: chat}
	}

	if digString(doc, "3", "needPush") == "false" {
		return Event{Kind: KindSystemNotice}
	}

	return unrecognized()
}

func isTyping(doc map[string]any) bool {
	entries, _ := doc["1"].([]any)
	if len(entries) == 0 {
		return false
	}
	first, _ := entries[0].(map[string]any)
	return strings.Contains(getString(first, "1"), wire.AddrSuffix)
}

func chatFromDoc(doc map[string]any) (*ChatMessage, bool) {
	m1 := getMap(doc, "1")
	m10 := getMap(m1, "10")
	if m10 == nil {
		return nil, false
	}
	text, ok := m10["reminderContent"].(string)
	if !ok {
		return nil, false
	}

	conv := wire.BareID(getString(m1, "2"))
	sender := getString(m10, "senderUserId")
	created := getInt64(m1, "5")
	if conv == "" || sender == "" || created == 0 {
		return nil, false
	}

	return &ChatMessage{
		ConversationID: conv,
		SenderID:       sender,
		SenderName:     getString(m10, "reminderTitle"),
		Text:           text,
		CreatedAt:      created,
		ItemID:         itemIDFromURL(getString(m10, "reminderUrl")),
		NoPush:         digString(doc, "3", "needPush") == "false",
	}, true
}
