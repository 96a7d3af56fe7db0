package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/tg-collector/pkg/entities"
)

// SQLite is an append-only archive of collected messages. It is written while
// listening and read only by offline tooling, the buffer is never restored from it.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

// ArchiveMessage stores a message, an edited message replaces its previous version
func (c *SQLite) ArchiveMessage(ctx context.Context, chatID string, msg e.Message) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO chats (chat_id, created_at) VALUES (?, CURRENT_TIMESTAMP)
			ON CONFLICT(chat_id) DO NOTHING`,
		chatID,
	)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}

	var senderID, senderUsername, senderFirst, senderLast *string
	if msg.Sender != nil {
		senderID = msg.Sender.ID
		senderUsername = msg.Sender.Username
		senderFirst = msg.Sender.FirstName
		senderLast = msg.Sender.LastName
	}

	var mediaKind, mediaFileID, mediaFileName *string
	if msg.Media != nil {
		kind := string(msg.Media.Kind)
		mediaKind = &kind
		mediaFileID = msg.Media.FileID
		mediaFileName = msg.Media.FileName
	}

	_, err = c.db.ExecContext(
		ctx,
		`INSERT INTO messages (
			chat_id, message_id, date, text,
			sender_id, sender_username, sender_first, sender_last,
			reply_to_id, media_kind, media_file_id, media_file_name,
			forwarded, edited, archived_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP
		) ON CONFLICT(chat_id, message_id) DO UPDATE SET
			text = excluded.text,
			media_kind = excluded.media_kind,
			media_file_id = excluded.media_file_id,
			media_file_name = excluded.media_file_name,
			edited = excluded.edited,
			archived_at = CURRENT_TIMESTAMP`,
		chatID, msg.ID, msg.Date.Unix(), msg.Text,
		senderID, senderUsername, senderFirst, senderLast,
		msg.ReplyToID, mediaKind, mediaFileID, mediaFileName,
		msg.Forwarded, msg.Edited,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// ListMessages returns archived messages of a chat sent at or after since, oldest first
func (c *SQLite) ListMessages(ctx context.Context, chatID string, since time.Time) ([]e.Message, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT message_id, date, text,
			sender_id, sender_username, sender_first, sender_last,
			reply_to_id, media_kind, media_file_id, media_file_name,
			forwarded, edited
		FROM messages
		WHERE chat_id = ? AND date >= ?
		ORDER BY date, message_id`,
		chatID, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []e.Message
	for rows.Next() {
		var (
			msg                                   e.Message
			date                                  int64
			text                                  sql.NullString
			senderID, senderUsername              sql.NullString
			senderFirst, senderLast               sql.NullString
			replyToID                             sql.NullInt64
			mediaKind, mediaFileID, mediaFileName sql.NullString
		)

		err = rows.Scan(
			&msg.ID, &date, &text,
			&senderID, &senderUsername, &senderFirst, &senderLast,
			&replyToID, &mediaKind, &mediaFileID, &mediaFileName,
			&msg.Forwarded, &msg.Edited,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.Date = time.Unix(date, 0).UTC()
		msg.Text = nullString(text)

		if senderID.Valid || senderUsername.Valid || senderFirst.Valid || senderLast.Valid {
			msg.Sender = &e.Sender{
				ID:        nullString(senderID),
				Username:  nullString(senderUsername),
				FirstName: nullString(senderFirst),
				LastName:  nullString(senderLast),
			}
		}

		if replyToID.Valid {
			id := int(replyToID.Int64)
			msg.ReplyToID = &id
		}

		if mediaKind.Valid {
			msg.Media = &e.Media{
				Kind:     e.MediaKind(mediaKind.String),
				FileID:   nullString(mediaFileID),
				FileName: nullString(mediaFileName),
			}
		}

		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// ListChats returns ids of chats having archived messages
func (c *SQLite) ListChats(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
