package storage

import (
	"sort"
	"sync"

	e "nuclight.org/tg-collector/pkg/entities"
)

// DefaultCapacity is a number of messages kept per chat when capacity is not set
const DefaultCapacity = 10000

// Page is a window of a chat history. NextOffset is set only when HasMore is true.
type Page struct {
	Messages   []e.Message
	HasMore    bool
	NextOffset *int
}

// Buffer keeps last messages of every chat in memory. Each chat holds at most
// capacity messages in arrival order, the oldest message is evicted first.
// Chats are locked independently, the map lock is only held exclusively to add
// or remove chats.
type Buffer struct {
	capacity int

	mu    sync.RWMutex
	chats map[string]*history
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{
		capacity: capacity,
		chats:    make(map[string]*history),
	}
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

// Append adds a message to the tail of the chat history evicting the oldest
// message when the chat is full.
func (b *Buffer) Append(chatID string, msg e.Message) {
	b.mu.RLock()
	h, ok := b.chats[chatID]
	if ok {
		h.push(msg)
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok = b.chats[chatID]
	if !ok {
		h = newHistory(b.capacity)
		b.chats[chatID] = h
	}
	h.push(msg)
}

// Slice returns messages at positions [offset, offset+limit) of the chat history.
// Unknown chats and offsets past the end give an empty page.
func (b *Buffer) Slice(chatID string, offset, limit int) Page {
	if offset < 0 {
		offset = 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.chats[chatID]
	if !ok {
		return Page{Messages: []e.Message{}}
	}

	return h.slice(offset, limit)
}

// Snapshot returns a copy of the whole chat history
func (b *Buffer) Snapshot(chatID string) []e.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.chats[chatID]
	if !ok {
		return []e.Message{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.copyRange(0, h.size)
}

// ListChats returns chats having at least one message, ordered by chat id
func (b *Buffer) ListChats() []e.ChatStat {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := make([]e.ChatStat, 0, len(b.chats))
	for chatID, h := range b.chats {
		if n := h.len(); n > 0 {
			stats = append(stats, e.ChatStat{ChatID: chatID, Count: n})
		}
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ChatID < stats[j].ChatID
	})

	return stats
}

func (b *Buffer) TotalCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, h := range b.chats {
		total += h.len()
	}

	return total
}

// Clear removes history of a single chat
func (b *Buffer) Clear(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.chats, chatID)
}

// ClearAll removes history of every chat
func (b *Buffer) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chats = make(map[string]*history)
}

// history is a ring of messages. Until it is full items grows by append and
// head stays 0, after that the oldest item at head is overwritten.
type history struct {
	mu       sync.RWMutex
	capacity int
	items    []e.Message
	head     int
	size     int
}

func newHistory(capacity int) *history {
	return &history{capacity: capacity}
}

func (h *history) push(msg e.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.capacity {
		h.items = append(h.items, msg)
		h.size++
		return
	}

	h.items[h.head] = msg
	h.head = (h.head + 1) % h.capacity
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.size
}

func (h *history) slice(offset, limit int) Page {
	h.mu.RLock()
	defer h.mu.RUnlock()

	end := offset + max(limit, 0)
	page := Page{
		HasMore: end < h.size,
	}
	if page.HasMore {
		page.NextOffset = &end
	}

	if offset >= h.size {
		page.Messages = []e.Message{}
		return page
	}

	page.Messages = h.copyRange(offset, min(end, h.size))

	return page
}

// copyRange must be called with h.mu held
func (h *history) copyRange(from, to int) []e.Message {
	out := make([]e.Message, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, h.items[(h.head+i)%len(h.items)])
	}

	return out
}
