// Package codec turns decoded wire envelopes into classified conversational
// events. Payloads arrive double-wrapped: a batched-update envelope whose
// inner data is either plaintext control chatter or an encrypted document
// with the actual message at fixed nested paths.
package codec

// Kind identifies the variant of a classified event.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindHeartbeatAck
	KindChatMessage
	KindTypingStatus
	KindSystemNotice
	KindOrderStatus
)

var kindNames = map[Kind]string{
	KindUnrecognized: "unrecognized",
	KindHeartbeatAck: "heartbeat_ack",
	KindChatMessage:  "chat_message",
	KindTypingStatus: "typing_status",
	KindSystemNotice: "system_notice",
	KindOrderStatus:  "order_status",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Order status labels carried on the wire.
const (
	StatusAwaitingPayment  = "awaiting payment"
	StatusAwaitingShipment = "awaiting shipment"
	StatusClosed           = "closed"
)

// ChatMessage is a customer or owner chat turn.
type ChatMessage struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	CreatedAt      int64 // unix milliseconds
	ItemID         string
	NoPush         bool // flagged as a non-pushable system notice
}

// OrderStatus is an order state transition on a conversation.
type OrderStatus struct {
	ConversationID string
	BuyerID        string
	StatusLabel    string
	ItemTitle      string
	Price          string
}

// Event is the tagged result of classification. Exactly one of the variant
// pointers is set for KindChatMessage and KindOrderStatus; the remaining
// kinds carry no payload beyond Mid.
type Event struct {
	Kind  Kind
	Mid   string // correlation id, set for heartbeat acks
	Chat  *ChatMessage
	Order *OrderStatus
}

func unrecognized() Event { return Event{Kind: KindUnrecognized} }
