package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var (
	archiveEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	archiveDecoder, _ = zstd.NewReader(nil)
)

// ExportTranscript serialises the full transcript of a conversation as a
// zstd-compressed JSON blob, suitable for archival or offline review.
func (s *SQLite) ExportTranscript(ctx context.Context, conversationID string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: export query: %w", err)
	}
	defer rows.Close()

	type entry struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		CreatedAt string `json:"createdAt"`
	}
	transcript := struct {
		ConversationID string  `json:"conversationId"`
		Messages       []entry `json:"messages"`
	}{ConversationID: conversationID}

	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: export scan: %w", err)
		}
		transcript.Messages = append(transcript.Messages, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plain, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("store: export marshal: %w", err)
	}
	return archiveEncoder.EncodeAll(plain, make([]byte, 0, len(plain)/2)), nil
}

// DecodeTranscript decompresses a blob produced by ExportTranscript back
// into its JSON form.
func DecodeTranscript(blob []byte) ([]byte, error) {
	return archiveDecoder.DecodeAll(blob, nil)
}
