// Package mcpserver exposes collected telegram messages as MCP tools and resources.
package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"nuclight.org/tg-collector/app/listener"
	"nuclight.org/tg-collector/app/retrieval"
	e "nuclight.org/tg-collector/pkg/entities"
	"nuclight.org/tg-collector/pkg/logger"
)

// ErrNoToken is returned by every tool when the bot token is not configured
var ErrNoToken = errors.New("TELEGRAM_BOT_TOKEN environment variable is required.\n\n" +
	"Get your bot token from @BotFather on Telegram:\n" +
	"1. Message @BotFather\n" +
	"2. Send /newbot or /mybots\n" +
	"3. Copy the bot token")

type Bot interface {
	Connect(ctx context.Context) error
	BotInfo(ctx context.Context) (e.BotInfo, error)
	ChatInfo(ctx context.Context, chatID string) (e.ChatInfo, error)
}

type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() listener.Status
}

type Store interface {
	ListChats() []e.ChatStat
	TotalCount() int
	Snapshot(chatID string) []e.Message
}

type Retriever interface {
	Collect(ctx context.Context, chatID string, limit, offset int) (retrieval.Result, error)
}

// Server is an MCP server over the message buffer
type Server struct {
	// Log is a logger
	Log logger.Logger

	// Token is a bot token, tools fail with ErrNoToken when it is empty
	Token string

	// Version is reported to MCP clients
	Version string

	Bot       Bot
	Session   Session
	Store     Store
	Retriever Retriever

	// LookupConcurrency limits parallel chat lookups when listing chats
	LookupConcurrency int

	server *mcp.Server
}

// MCP builds the underlying MCP server on first use
func (s *Server) MCP() *mcp.Server {
	if s.server != nil {
		return s.server
	}

	version := s.Version
	if version == "" {
		version = "dev"
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "tg-collector",
		Version: version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s.server
}

// Run serves MCP over stdin and stdout until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.MCP().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) connect(ctx context.Context, autoConnect *bool) error {
	if s.Token == "" {
		return ErrNoToken
	}

	if autoConnect != nil && !*autoConnect {
		return nil
	}

	return s.Bot.Connect(ctx)
}
