package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/tg-collector/app/storage"
	e "nuclight.org/tg-collector/pkg/entities"
	"nuclight.org/tg-collector/pkg/logger"
)

var opts struct {
	DBPath   string `long:"db-path" env:"ARCHIVE_PATH" required:"true" description:"path to the sqlite archive file"`
	ChatID   string `long:"chat-id" description:"export only this chat, all chats when empty"`
	DaysBack int    `long:"days" env:"DAYS_BACK" default:"10" description:"number of days back to export messages"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn or error"`
}

type sender struct {
	ID        *string `json:"id,omitempty"`
	Username  *string `json:"username,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

type media struct {
	Type     string  `json:"type"`
	FileName *string `json:"fileName,omitempty"`
	FileID   *string `json:"fileId,omitempty"`
}

type record struct {
	ChatID    string    `json:"chatId"`
	ID        int       `json:"id"`
	Date      time.Time `json:"date"`
	Text      *string   `json:"text,omitempty"`
	Sender    *sender   `json:"sender,omitempty"`
	ReplyToID *int      `json:"replyToMsgId,omitempty"`
	Media     *media    `json:"media,omitempty"`
	Forwarded bool      `json:"forwarded,omitempty"`
	Edited    bool      `json:"edited,omitempty"`
}

func takeRecord(chatID string, msg e.Message) record {
	r := record{
		ChatID:    chatID,
		ID:        msg.ID,
		Date:      msg.Date,
		Text:      msg.Text,
		ReplyToID: msg.ReplyToID,
		Forwarded: msg.Forwarded,
		Edited:    msg.Edited,
	}

	if msg.Sender != nil {
		r.Sender = &sender{
			ID:        msg.Sender.ID,
			Username:  msg.Sender.Username,
			FirstName: msg.Sender.FirstName,
			LastName:  msg.Sender.LastName,
		}
	}

	if msg.Media != nil {
		r.Media = &media{
			Type:     string(msg.Media.Kind),
			FileName: msg.Media.FileName,
			FileID:   msg.Media.FileID,
		}
	}

	return r
}

func main() {
	_ = godotenv.Load()

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log, err := logger.NewLogger(opts.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log.Info("starting export")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("opening sqlite3 archive", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 archive", "error", err)
		}
	}()

	chatIDs := []string{opts.ChatID}
	if opts.ChatID == "" {
		chatIDs, err = db.ListChats(ctx)
		if err != nil {
			log.Error("listing archived chats", "error", err)
			return
		}
	}

	fromDate := time.Now().Add(time.Hour * 24 * time.Duration(opts.DaysBack) * -1)
	enc := json.NewEncoder(os.Stdout)

	var total int
	for _, chatID := range chatIDs {
		messages, err := db.ListMessages(ctx, chatID, fromDate)
		if err != nil {
			log.Error("listing archived messages", "tg_chat_id", chatID, "error", err)
			return
		}

		for _, msg := range messages {
			err = enc.Encode(takeRecord(chatID, msg))
			if err != nil {
				log.Error("writing message", "tg_chat_id", chatID, "tg_message_id", msg.ID, "error", err)
				return
			}
		}

		log.Debug("chat exported", "tg_chat_id", chatID, "count", len(messages))
		total += len(messages)
	}

	log.Info("done", "chats", len(chatIDs), "messages", total, "from", fromDate.Format(time.RFC3339))
}
