// Package retrieval serves paginated reads of buffered chat history.
package retrieval

import (
	"context"
	"fmt"

	"nuclight.org/tg-collector/app/storage"
	e "nuclight.org/tg-collector/pkg/entities"
)

type Slicer interface {
	Slice(chatID string, offset, limit int) storage.Page
}

type ChatLookup interface {
	ChatInfo(ctx context.Context, chatID string) (e.ChatInfo, error)
}

// Result is a page of chat history with the chat it belongs to
type Result struct {
	storage.Page
	Chat e.ChatInfo
}

// Service reads the buffer, it never modifies it
type Service struct {
	Buffer Slicer
	Lookup ChatLookup
}

// Retrieve returns a page of the chat history. When info is nil the chat is
// described only by its id.
func (s *Service) Retrieve(chatID string, limit, offset int, info *e.ChatInfo) Result {
	res := Result{
		Page: s.Buffer.Slice(chatID, offset, limit),
		Chat: e.ChatInfo{ID: chatID, Kind: e.ChatKindChat},
	}

	if info != nil {
		res.Chat = *info
	}

	return res
}

// Collect looks the chat up and returns a page of its history. Lookup errors
// are returned as is, wrapped with the chat id.
func (s *Service) Collect(ctx context.Context, chatID string, limit, offset int) (Result, error) {
	info, err := s.Lookup.ChatInfo(ctx, chatID)
	if err != nil {
		return Result{}, fmt.Errorf("getting chat info for %s: %w", chatID, err)
	}

	return s.Retrieve(chatID, limit, offset, &info), nil
}
