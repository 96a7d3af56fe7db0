package listener

import (
	"context"
	"fmt"
	"sync"

	"nuclight.org/tg-collector/app/normalizer"
	e "nuclight.org/tg-collector/pkg/entities"
	"nuclight.org/tg-collector/pkg/logger"
)

// Handler receives inbound events one at a time
type Handler func(ctx context.Context, ev e.Event)

// Source is a stream of inbound events. Subscribe attaches the handler until
// the returned unsubscribe function is called.
type Source interface {
	Subscribe(handler Handler) (unsubscribe func(), err error)
}

type Store interface {
	Append(chatID string, msg e.Message)
	ListChats() []e.ChatStat
	TotalCount() int
}

type Archiver interface {
	ArchiveMessage(ctx context.Context, chatID string, msg e.Message) error
}

type Status struct {
	Listening     bool
	Chats         []e.ChatStat
	TotalChats    int
	TotalMessages int
}

// Session controls whether inbound events are collected into the store.
// Start and Stop are idempotent. Once Stop returns no event is appended to the
// store until the next Start.
type Session struct {
	// Log is a logger
	Log logger.Logger

	// Source delivers inbound events
	Source Source

	// Store receives normalized messages
	Store Store

	// Archiver optionally receives every stored message, may be nil
	Archiver Archiver

	// ctl serializes Start and Stop
	ctl sync.Mutex

	// mu guards the fields below, handlers hold it for reading while appending
	mu          sync.RWMutex
	listening   bool
	generation  uint64
	unsubscribe func()
}

func (s *Session) Start(_ context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	// events delivered before listening is set are dropped by the handler
	unsubscribe, err := s.Source.Subscribe(s.handler(gen))
	if err != nil {
		return fmt.Errorf("subscribing to messages: %w", err)
	}

	s.mu.Lock()
	s.listening = true
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.Log.Info("listening for messages")

	return nil
}

func (s *Session) Stop(_ context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	s.Log.Info("stopped listening for messages")

	return nil
}

func (s *Session) IsListening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listening
}

func (s *Session) Status() Status {
	chats := s.Store.ListChats()

	return Status{
		Listening:     s.IsListening(),
		Chats:         chats,
		TotalChats:    len(chats),
		TotalMessages: s.Store.TotalCount(),
	}
}

func (s *Session) handler(gen uint64) Handler {
	return func(ctx context.Context, ev e.Event) {
		msg := normalizer.Normalize(ev)

		if !s.store(gen, ev.ChatID, msg) {
			s.Log.Debug("message dropped, not listening", "tg_chat_id", ev.ChatID, "tg_message_id", msg.ID)
			return
		}

		s.Log.Info("stored message", "tg_chat_id", ev.ChatID, "tg_message_id", msg.ID, "preview", msg.Preview(50))

		if s.Archiver == nil {
			return
		}

		err := s.Archiver.ArchiveMessage(ctx, ev.ChatID, msg)
		if err != nil {
			s.Log.Error("archiving message", "tg_chat_id", ev.ChatID, "tg_message_id", msg.ID, "error", err)
		}
	}
}

func (s *Session) store(gen uint64, chatID string, msg e.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.listening || s.generation != gen {
		return false
	}

	s.Store.Append(chatID, msg)

	return true
}
