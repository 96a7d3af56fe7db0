package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"nuclight.org/tg-collector/app/listener"
	e "nuclight.org/tg-collector/pkg/entities"
)

const (
	DefaultLimit = 100
	MaxLimit     = 10000

	defaultLookupConcurrency = 8
)

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "telegram-list-chats",
		Title:       "Telegram List Chats",
		Description: "Lists all chats/groups that the bot has received messages from. Shows chat IDs and message counts.",
	}, s.handleListChats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:  "telegram-collect-messages",
		Title: "Telegram Collect Messages",
		Description: "Retrieves stored messages from a Telegram chat. Returns messages that the bot has received " +
			"since it started listening. Use telegram-list-chats to get available chat IDs.",
	}, s.handleCollectMessages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:  "telegram-start-listening",
		Title: "Telegram Start Listening",
		Description: "Start or stop the bot from listening to messages. When started, the bot will automatically " +
			"store all incoming messages in memory for later retrieval.",
	}, s.handleListening)
}

type BotOutput struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	IsBot     bool   `json:"isBot"`
}

type ListChatsInput struct {
	AutoConnect *bool `json:"autoConnect,omitempty" jsonschema:"Automatically connect if not connected (default true)"`
}

type ChatOutput struct {
	ChatID       string  `json:"chatId"`
	Title        string  `json:"title"`
	Type         string  `json:"type"`
	Username     *string `json:"username,omitempty"`
	MessageCount int     `json:"messageCount"`
	Error        string  `json:"error,omitempty"`
}

type ListChatsOutput struct {
	Success             bool         `json:"success"`
	Bot                 BotOutput    `json:"bot"`
	Chats               []ChatOutput `json:"chats"`
	TotalChats          int          `json:"totalChats"`
	TotalStoredMessages int          `json:"totalStoredMessages"`
	Note                string       `json:"note,omitempty"`
}

func (s *Server) handleListChats(ctx context.Context, _ *mcp.CallToolRequest, in ListChatsInput) (*mcp.CallToolResult, ListChatsOutput, error) {
	if err := s.connect(ctx, in.AutoConnect); err != nil {
		return nil, ListChatsOutput{}, fmt.Errorf("listing chats: %w", err)
	}

	me, err := s.Bot.BotInfo(ctx)
	if err != nil {
		return nil, ListChatsOutput{}, fmt.Errorf("listing chats: %w", err)
	}

	stats := s.Store.ListChats()
	chats := make([]ChatOutput, len(stats))

	limit := s.LookupConcurrency
	if limit <= 0 {
		limit = defaultLookupConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, st := range stats {
		g.Go(func() error {
			chats[i] = s.describeChat(gctx, st)
			return nil
		})
	}
	_ = g.Wait()

	out := ListChatsOutput{
		Success:             true,
		Bot:                 takeBotOutput(me),
		Chats:               chats,
		TotalChats:          len(stats),
		TotalStoredMessages: s.Store.TotalCount(),
	}

	if len(stats) == 0 {
		out.Note = "No chats found. The bot needs to receive at least one message from a chat to track it. " +
			"Make sure the bot is added to groups and has received messages."
	}

	return nil, out, nil
}

// describeChat never fails, a chat that can not be looked up is reported as unknown
func (s *Server) describeChat(ctx context.Context, st e.ChatStat) ChatOutput {
	info, err := s.Bot.ChatInfo(ctx, st.ChatID)
	if err != nil {
		s.Log.Warn("getting chat info", "tg_chat_id", st.ChatID, "error", err)

		return ChatOutput{
			ChatID:       st.ChatID,
			Title:        "Unknown",
			Type:         "unknown",
			MessageCount: st.Count,
			Error:        "Failed to fetch chat info",
		}
	}

	title := "Private Chat"
	if info.Title != nil {
		title = *info.Title
	}

	return ChatOutput{
		ChatID:       st.ChatID,
		Title:        title,
		Type:         string(info.Kind),
		Username:     info.Username,
		MessageCount: st.Count,
	}
}

type CollectMessagesInput struct {
	ChatID      string `json:"chatId" jsonschema:"Chat ID (numeric) from telegram-list-chats tool"`
	Limit       *int   `json:"limit,omitempty" jsonschema:"Maximum number of messages to retrieve (1-10000), default 100"`
	Offset      *int   `json:"offset,omitempty" jsonschema:"Offset for pagination (number of messages to skip), default 0"`
	AutoConnect *bool  `json:"autoConnect,omitempty" jsonschema:"Automatically connect if not connected (default true)"`
}

type SenderOutput struct {
	ID        *string `json:"id,omitempty"`
	Username  *string `json:"username,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

type MediaOutput struct {
	Type     string  `json:"type"`
	FileName *string `json:"fileName,omitempty"`
}

type MessageOutput struct {
	ID           int          `json:"id"`
	Date         string       `json:"date"`
	Text         string       `json:"text"`
	Sender       SenderOutput `json:"sender"`
	Media        *MediaOutput `json:"media,omitempty"`
	ReplyToMsgID *int         `json:"replyToMsgId,omitempty"`
	Forwarded    bool         `json:"forwarded,omitempty"`
	Edited       bool         `json:"edited,omitempty"`
}

type ChatInfoOutput struct {
	ID       string  `json:"id"`
	Title    *string `json:"title,omitempty"`
	Type     string  `json:"type"`
	Username *string `json:"username,omitempty"`
}

type PaginationOutput struct {
	HasMore    bool `json:"hasMore"`
	NextOffset *int `json:"nextOffset,omitempty"`
}

type CollectedOutput struct {
	Messages       []MessageOutput  `json:"messages"`
	TotalCollected int              `json:"totalCollected"`
	ChatInfo       ChatInfoOutput   `json:"chatInfo"`
	Pagination     PaginationOutput `json:"pagination"`
}

type CollectMessagesOutput struct {
	Success bool            `json:"success"`
	Data    CollectedOutput `json:"data"`
	Note    string          `json:"note,omitempty"`
}

func (s *Server) handleCollectMessages(ctx context.Context, _ *mcp.CallToolRequest, in CollectMessagesInput) (*mcp.CallToolResult, CollectMessagesOutput, error) {
	limit, offset, err := validatePage(in.Limit, in.Offset)
	if err != nil {
		return nil, CollectMessagesOutput{}, fmt.Errorf("collecting messages: %w", err)
	}

	if in.ChatID == "" {
		return nil, CollectMessagesOutput{}, fmt.Errorf("collecting messages: chatId is required")
	}

	if err = s.connect(ctx, in.AutoConnect); err != nil {
		return nil, CollectMessagesOutput{}, fmt.Errorf("collecting messages: %w", err)
	}

	res, err := s.Retriever.Collect(ctx, in.ChatID, limit, offset)
	if err != nil {
		return nil, CollectMessagesOutput{}, fmt.Errorf("collecting messages: %w", err)
	}

	out := CollectMessagesOutput{
		Success: true,
		Data: CollectedOutput{
			Messages:       takeMessagesOutput(res.Messages),
			TotalCollected: len(res.Messages),
			ChatInfo:       takeChatInfoOutput(res.Chat),
			Pagination: PaginationOutput{
				HasMore:    res.HasMore,
				NextOffset: res.NextOffset,
			},
		},
	}

	if len(res.Messages) == 0 {
		out.Note = "No messages found. Make sure:\n" +
			"1. The bot is added to this chat\n" +
			"2. The bot has received messages (use telegram-start-listening first)\n" +
			"3. The chatId is correct (use telegram-list-chats to see available chats)"
	}

	return nil, out, nil
}

func validatePage(limit, offset *int) (int, int, error) {
	l, o := DefaultLimit, 0

	if limit != nil {
		if *limit < 1 || *limit > MaxLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, *limit)
		}
		l = *limit
	}

	if offset != nil {
		if *offset < 0 {
			return 0, 0, fmt.Errorf("offset must not be negative, got %d", *offset)
		}
		o = *offset
	}

	return l, o, nil
}

type ListeningInput struct {
	Action string `json:"action,omitempty" jsonschema:"Action to perform: start, stop, or status (default start)"`
}

type ChatCountOutput struct {
	ChatID       string `json:"chatId"`
	MessageCount int    `json:"messageCount"`
}

type StatsOutput struct {
	TotalChats          int               `json:"totalChats"`
	TotalStoredMessages int               `json:"totalStoredMessages"`
	Chats               []ChatCountOutput `json:"chats"`
}

type ListeningOutput struct {
	Success      bool         `json:"success"`
	Action       string       `json:"action"`
	Listening    bool         `json:"listening"`
	Message      string       `json:"message,omitempty"`
	Instructions []string     `json:"instructions,omitempty"`
	Note         string       `json:"note,omitempty"`
	Bot          *BotOutput   `json:"bot,omitempty"`
	Stats        *StatsOutput `json:"stats,omitempty"`
}

func (s *Server) handleListening(ctx context.Context, _ *mcp.CallToolRequest, in ListeningInput) (*mcp.CallToolResult, ListeningOutput, error) {
	action := in.Action
	if action == "" {
		action = "start"
	}

	if action != "start" && action != "stop" && action != "status" {
		return nil, ListeningOutput{}, fmt.Errorf("unknown action %q, expected start, stop or status", action)
	}

	if err := s.connect(ctx, nil); err != nil {
		return nil, ListeningOutput{}, err
	}

	switch action {
	case "start":
		if err := s.Session.Start(ctx); err != nil {
			return nil, ListeningOutput{}, fmt.Errorf("starting listening: %w", err)
		}

		return nil, ListeningOutput{
			Success:   true,
			Action:    "started",
			Listening: true,
			Message:   "Bot is now listening for messages. All incoming messages will be stored in memory.",
			Instructions: []string{
				"1. Add the bot to your groups/channels",
				"2. Send some messages in those chats",
				"3. Use telegram-list-chats to see available chats",
				"4. Use telegram-collect-messages to retrieve stored messages",
			},
		}, nil

	case "stop":
		if err := s.Session.Stop(ctx); err != nil {
			return nil, ListeningOutput{}, fmt.Errorf("stopping listening: %w", err)
		}

		return nil, ListeningOutput{
			Success:   true,
			Action:    "stopped",
			Listening: false,
			Message:   "Bot has stopped listening for messages.",
			Note:      "Stored messages are still available until server restart.",
		}, nil

	default:
		me, err := s.Bot.BotInfo(ctx)
		if err != nil {
			return nil, ListeningOutput{}, fmt.Errorf("getting status: %w", err)
		}

		bot := takeBotOutput(me)
		st := s.Session.Status()

		return nil, ListeningOutput{
			Success:   true,
			Action:    "status",
			Listening: st.Listening,
			Bot:       &bot,
			Stats:     takeStatsOutput(st),
		}, nil
	}
}

func takeBotOutput(me e.BotInfo) BotOutput {
	return BotOutput{
		ID:        me.ID,
		Username:  me.Username,
		FirstName: me.FirstName,
		IsBot:     me.IsBot,
	}
}

func takeStatsOutput(st listener.Status) *StatsOutput {
	chats := make([]ChatCountOutput, 0, len(st.Chats))
	for _, c := range st.Chats {
		chats = append(chats, ChatCountOutput{ChatID: c.ChatID, MessageCount: c.Count})
	}

	return &StatsOutput{
		TotalChats:          st.TotalChats,
		TotalStoredMessages: st.TotalMessages,
		Chats:               chats,
	}
}

func takeChatInfoOutput(info e.ChatInfo) ChatInfoOutput {
	return ChatInfoOutput{
		ID:       info.ID,
		Title:    info.Title,
		Type:     string(info.Kind),
		Username: info.Username,
	}
}

func takeMessagesOutput(messages []e.Message) []MessageOutput {
	out := make([]MessageOutput, 0, len(messages))
	for _, msg := range messages {
		out = append(out, takeMessageOutput(msg))
	}
	return out
}

func takeMessageOutput(msg e.Message) MessageOutput {
	out := MessageOutput{
		ID:           msg.ID,
		Date:         msg.Date.UTC().Format(time.RFC3339),
		ReplyToMsgID: msg.ReplyToID,
		Forwarded:    msg.Forwarded,
		Edited:       msg.Edited,
	}

	if msg.Text != nil {
		out.Text = *msg.Text
	}

	if msg.Sender != nil {
		out.Sender = SenderOutput{
			ID:        msg.Sender.ID,
			Username:  msg.Sender.Username,
			FirstName: msg.Sender.FirstName,
			LastName:  msg.Sender.LastName,
		}
	}

	if msg.Media != nil {
		out.Media = &MediaOutput{
			Type:     string(msg.Media.Kind),
			FileName: msg.Media.FileName,
		}
	}

	return out
}
