// Package store persists conversation transcripts and handover state.
package store

import (
	"context"

	"github.com/flealive/flealive/reply"
)

// Roles recorded against a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store is the message-store collaborator consumed by the dispatcher.
type Store interface {
	// RecordMessage appends a turn to the conversation transcript.
	RecordMessage(ctx context.Context, conversationID, role, text string) error
	// History returns up to limit most recent turns, oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]reply.Turn, error)
	// IsHandover reports whether the conversation is flagged for a human.
	IsHandover(ctx context.Context, conversationID string) (bool, error)
	// SetHandover flags or unflags the conversation for a human.
	SetHandover(ctx context.Context, conversationID string, handover bool) error
}
