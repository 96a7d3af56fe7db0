package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/tg-collector/app/listener"
	e "nuclight.org/tg-collector/pkg/entities"
	"nuclight.org/tg-collector/pkg/logger"
)

var (
	// ErrNotConnected is returned when the bot api is used before Connect
	ErrNotConnected = errors.New("bot is not connected")

	// ErrAlreadySubscribed is returned when a second handler is subscribed
	ErrAlreadySubscribed = errors.New("updates handler is already subscribed")
)

var allowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post"}

// Client is a telegram bot api client. It delivers incoming messages to a
// subscribed handler and looks up chats and the bot itself. Updates of one chat
// are always handled by the same worker, so their order is preserved.
type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int

	// PollTimeout is a long polling timeout in seconds
	PollTimeout int

	// Endpoint overrides tgbotapi.APIEndpoint
	Endpoint string

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	cancel   context.CancelFunc
	pollDone chan struct{}

	// offset is the next update id to ask for, kept across subscriptions
	offset atomic.Int64

	wg sync.WaitGroup
}

// Connect creates the bot api, it does nothing when already connected
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil {
		return nil
	}

	if c.WorkersNum <= 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.APIToken, c.endpoint(), &http.Client{})
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	c.bot = bot
	c.Log.Info("bot api created", "username", bot.Self.UserName)

	return nil
}

func (c *Client) endpoint() string {
	if c.Endpoint == "" {
		return tgbotapi.APIEndpoint
	}
	return c.Endpoint
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.bot != nil
}

func (c *Client) getBot() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot == nil {
		return nil, ErrNotConnected
	}

	return c.bot, nil
}

// BotInfo asks telegram who the bot is
func (c *Client) BotInfo(_ context.Context) (e.BotInfo, error) {
	bot, err := c.getBot()
	if err != nil {
		return e.BotInfo{}, err
	}

	me, err := bot.GetMe()
	if err != nil {
		return e.BotInfo{}, fmt.Errorf("getting bot info: %w", err)
	}

	return e.BotInfo{
		ID:        me.ID,
		FirstName: me.FirstName,
		Username:  me.UserName,
		IsBot:     me.IsBot,
	}, nil
}

// ChatInfo looks a chat up by numeric id or by @username
func (c *Client) ChatInfo(_ context.Context, chatID string) (e.ChatInfo, error) {
	bot, err := c.getBot()
	if err != nil {
		return e.ChatInfo{}, err
	}

	conf := tgbotapi.ChatInfoConfig{}
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		conf.ChatID = id
	} else {
		conf.SuperGroupUsername = chatID
	}

	chat, err := bot.GetChat(conf)
	if err != nil {
		return e.ChatInfo{}, fmt.Errorf("getting chat: %w", err)
	}

	return takeChatInfo(&chat), nil
}

// Subscribe starts long polling and delivers every incoming message to the handler
// until the returned function is called. Only one handler may be subscribed at a time.
func (c *Client) Subscribe(handler listener.Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.bot == nil {
			return nil, ErrNotConnected
		}

		if c.cancel != nil {
			return nil, ErrAlreadySubscribed
		}

		prev := c.pollDone
		if prev == nil || isClosed(prev) {
			break
		}

		// previous poll is cancelled but has not returned yet
		c.mu.Unlock()
		<-prev
		c.mu.Lock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.pollDone = done

	// polling requests are aborted as soon as the subscription is cancelled
	bot := &tgbotapi.BotAPI{
		Token:  c.bot.Token,
		Self:   c.bot.Self,
		Client: &contextClient{ctx: ctx, client: &http.Client{}},
		Buffer: c.bot.Buffer,
	}
	bot.SetAPIEndpoint(c.endpoint())

	workers := make([]chan tgbotapi.Update, c.WorkersNum)
	for i := range workers {
		workers[i] = make(chan tgbotapi.Update, 100)

		c.wg.Add(1)
		go func(updates <-chan tgbotapi.Update) {
			defer c.wg.Done()
			for update := range updates {
				c.handleUpdate(ctx, handler, update)
			}
		}(workers[i])
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer func() {
			for _, w := range workers {
				close(w)
			}
		}()

		c.poll(ctx, bot, workers)
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			cancel()
			c.cancel = nil
		})
	}

	return unsubscribe, nil
}

// Wait blocks until polling and all workers are finished
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) poll(ctx context.Context, bot *tgbotapi.BotAPI, workers []chan tgbotapi.Update) {
	log := c.Log

	conf := tgbotapi.NewUpdate(0)
	conf.Timeout = c.PollTimeout
	conf.AllowedUpdates = allowedUpdates

	for {
		if ctx.Err() != nil {
			return
		}

		conf.Offset = int(c.offset.Load())

		updates, err := bot.GetUpdates(conf)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Error("getting updates", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}

			continue
		}

		for _, update := range updates {
			w := workers[shard(takeUpdateChatID(update), len(workers))]

			select {
			case <-ctx.Done():
				// not acknowledged updates are received again by the next poll
				return
			case w <- update:
				c.offset.Store(int64(update.UpdateID + 1))
			}
		}
	}
}

// contextClient binds every request to the subscription context
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c *contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (c *Client) handleUpdate(ctx context.Context, handler listener.Handler, update tgbotapi.Update) {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
			sentry.CurrentHub().Recover(err)
		}
	}()

	msg := takeMessage(update)
	if msg == nil {
		log.Warn("update has no message")
		return
	}

	if msg.Chat == nil {
		log.Warn("message chat is nil")
		return
	}

	log.Debug(
		"new message",
		"tg_message_id", msg.MessageID,
		"tg_user_name", takeUserName(msg.From),
		"tg_chat_id", msg.Chat.ID,
		"tg_chat_title", msg.Chat.Title,
	)

	handler(ctx, takeEvent(msg))
}

func takeMessage(update tgbotapi.Update) *tgbotapi.Message {
	switch {
	case update.Message != nil:
		return update.Message
	case update.EditedMessage != nil:
		return update.EditedMessage
	case update.ChannelPost != nil:
		return update.ChannelPost
	case update.EditedChannelPost != nil:
		return update.EditedChannelPost
	default:
		return nil
	}
}

func takeUpdateChatID(update tgbotapi.Update) int64 {
	msg := takeMessage(update)
	if msg == nil || msg.Chat == nil {
		return 0
	}
	return msg.Chat.ID
}

func shard(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

func takeEvent(msg *tgbotapi.Message) e.Event {
	ev := e.Event{
		ChatID:     takeChatID(msg.Chat),
		MessageID:  msg.MessageID,
		Date:       msg.Time().UTC(),
		Text:       optional(msg.Text),
		Caption:    optional(msg.Caption),
		Attachment: takeAttachment(msg),
	}

	if msg.From != nil {
		ev.From = &e.EventUser{
			ID:        takeUserID(msg.From),
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}
	}

	if msg.ReplyToMessage != nil {
		id := msg.ReplyToMessage.MessageID
		ev.ReplyToID = &id
	}

	if msg.ForwardDate != 0 {
		t := time.Unix(int64(msg.ForwardDate), 0).UTC()
		ev.ForwardDate = &t
	}

	if msg.EditDate != 0 {
		t := time.Unix(int64(msg.EditDate), 0).UTC()
		ev.EditDate = &t
	}

	return ev
}

func takeAttachment(msg *tgbotapi.Message) e.Attachment {
	switch {
	case len(msg.Photo) > 0:
		// sizes are ordered from the smallest to the largest
		return e.Photo{FileID: msg.Photo[len(msg.Photo)-1].FileID}
	case msg.Video != nil:
		return e.Video{FileID: msg.Video.FileID}
	case msg.Document != nil:
		return e.Document{FileID: msg.Document.FileID, FileName: msg.Document.FileName}
	case msg.Audio != nil:
		return e.Audio{FileID: msg.Audio.FileID}
	case msg.Voice != nil:
		return e.Voice{FileID: msg.Voice.FileID}
	case msg.Sticker != nil:
		return e.Sticker{FileID: msg.Sticker.FileID}
	default:
		return nil
	}
}

func takeChatInfo(chat *tgbotapi.Chat) e.ChatInfo {
	info := e.ChatInfo{
		ID:       takeChatID(chat),
		Kind:     takeChatKind(chat),
		Username: optional(chat.UserName),
	}

	if chat.Title != "" {
		info.Title = &chat.Title
	}

	return info
}

func takeChatKind(chat *tgbotapi.Chat) e.ChatKind {
	switch {
	case chat.IsPrivate():
		return e.ChatKindDirect
	case chat.IsChannel():
		return e.ChatKindChannel
	default:
		return e.ChatKindGroup
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func takeChatID(chat *tgbotapi.Chat) string {
	return strconv.FormatInt(chat.ID, 10)
}

func takeUserID(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func takeUserName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}

	var sb strings.Builder

	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}

	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}

	if user.UserName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
			sb.WriteRune('(')
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
			sb.WriteRune(')')
		} else {
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
		}
	}

	if sb.Len() == 0 {
		return takeUserID(user)
	}

	return sb.String()
}
