package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const messagesURIPrefix = "telegram://messages/"

type resourceChat struct {
	ChatID       string `json:"chatId"`
	MessageCount int    `json:"messageCount"`
}

type resourceChatList struct {
	Chats []resourceChat `json:"chats"`
}

type resourceMessages struct {
	ChatID   string          `json:"chatId"`
	Count    int             `json:"count"`
	Messages []MessageOutput `json:"messages"`
}

func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "Telegram Messages",
		URITemplate: messagesURIPrefix + "{chatId}",
		MIMEType:    "application/json",
		Description: "Access collected messages from a Telegram chat. " +
			"Use telegram-start-listening first to collect data, telegram://messages/list lists chats.",
	}, s.readMessages)
}

func (s *Server) readMessages(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI

	chatID := strings.TrimPrefix(uri, messagesURIPrefix)
	if chatID == "" || chatID == uri {
		return nil, fmt.Errorf("chatId variable is required")
	}

	var body any
	if chatID == "list" {
		list := resourceChatList{Chats: []resourceChat{}}
		for _, st := range s.Store.ListChats() {
			list.Chats = append(list.Chats, resourceChat{ChatID: st.ChatID, MessageCount: st.Count})
		}
		body = list
	} else {
		messages := s.Store.Snapshot(chatID)
		if len(messages) == 0 {
			return nil, mcp.ResourceNotFoundError(uri)
		}

		body = resourceMessages{
			ChatID:   chatID,
			Count:    len(messages),
			Messages: takeMessagesOutput(messages),
		}
	}

	text, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(text),
			},
		},
	}, nil
}
