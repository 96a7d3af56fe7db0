package entities

import "time"

// Event is an inbound chat message as delivered by a transport. Optional fields
// are nil when the transport did not carry them.
type Event struct {
	ChatID      string
	MessageID   int
	Date        time.Time
	Text        *string
	Caption     *string
	From        *EventUser
	ReplyToID   *int
	Attachment  Attachment
	ForwardDate *time.Time
	EditDate    *time.Time
}

type EventUser struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
}

// Attachment is one of Photo, Video, Document, Audio, Voice or Sticker.
type Attachment interface {
	attachment()
}

type Photo struct{ FileID string }

type Video struct{ FileID string }

type Document struct {
	FileID   string
	FileName string
}

type Audio struct{ FileID string }

type Voice struct{ FileID string }

type Sticker struct{ FileID string }

func (Photo) attachment()    {}
func (Video) attachment()    {}
func (Document) attachment() {}
func (Audio) attachment()    {}
func (Voice) attachment()    {}
func (Sticker) attachment()  {}
