// Package normalizer converts inbound transport events into stored messages.
package normalizer

import (
	e "nuclight.org/tg-collector/pkg/entities"
)

// Normalize builds a message from an event. It never fails: whatever the event
// carries is copied, everything else stays absent.
func Normalize(ev e.Event) e.Message {
	msg := e.Message{
		ID:        ev.MessageID,
		Date:      ev.Date,
		ReplyToID: copyInt(ev.ReplyToID),
		Media:     takeMedia(ev.Attachment),
		Forwarded: ev.ForwardDate != nil,
		Edited:    ev.EditDate != nil,
	}

	switch {
	case ev.Text != nil:
		msg.Text = copyString(ev.Text)
	case ev.Caption != nil:
		msg.Text = copyString(ev.Caption)
	}

	if ev.From != nil {
		msg.Sender = &e.Sender{
			ID:        optional(ev.From.ID),
			Username:  optional(ev.From.Username),
			FirstName: optional(ev.From.FirstName),
			LastName:  optional(ev.From.LastName),
		}
	}

	return msg
}

func takeMedia(att e.Attachment) *e.Media {
	switch a := att.(type) {
	case e.Photo:
		return &e.Media{Kind: e.MediaKindPhoto, FileID: optional(a.FileID)}
	case e.Video:
		return &e.Media{Kind: e.MediaKindVideo, FileID: optional(a.FileID)}
	case e.Document:
		return &e.Media{Kind: e.MediaKindDocument, FileID: optional(a.FileID), FileName: optional(a.FileName)}
	case e.Audio:
		return &e.Media{Kind: e.MediaKindAudio, FileID: optional(a.FileID)}
	case e.Voice:
		return &e.Media{Kind: e.MediaKindVoice, FileID: optional(a.FileID)}
	case e.Sticker:
		return &e.Media{Kind: e.MediaKindSticker, FileID: optional(a.FileID)}
	default:
		return nil
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func copyString(s *string) *string {
	v := *s
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
