package entities

import "time"

// Sender is an author of a message. Every field is optional, absent fields are nil.
type Sender struct {
	ID        *string
	Username  *string
	FirstName *string
	LastName  *string
}

type MediaKind string

const (
	MediaKindPhoto    MediaKind = "photo"
	MediaKindVideo    MediaKind = "video"
	MediaKindDocument MediaKind = "document"
	MediaKindAudio    MediaKind = "audio"
	MediaKindVoice    MediaKind = "voice"
	MediaKindSticker  MediaKind = "sticker"
)

type Media struct {
	Kind     MediaKind
	FileName *string
	FileID   *string
}

// Message is a normalized chat message. ID is unique within its chat.
// Messages are never modified after they are stored.
type Message struct {
	ID        int
	Date      time.Time
	Text      *string
	Sender    *Sender
	ReplyToID *int
	Media     *Media
	Forwarded bool
	Edited    bool
}

func (m *Message) HasText() bool {
	return m.Text != nil
}

func (m *Message) HasMedia() bool {
	return m.Media != nil
}

// Preview returns first n runes of the text, or "[media]" when there is no text.
func (m *Message) Preview(n int) string {
	if m.Text == nil || *m.Text == "" {
		return "[media]"
	}

	runes := []rune(*m.Text)
	if len(runes) <= n {
		return *m.Text
	}

	return string(runes[:n])
}
