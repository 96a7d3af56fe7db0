package entities

type ChatKind string

const (
	// ChatKindDirect is a one-to-one chat with a user
	ChatKindDirect ChatKind = "direct"

	// ChatKindGroup is a group or a supergroup
	ChatKindGroup ChatKind = "group"

	// ChatKindChannel is a broadcast channel
	ChatKindChannel ChatKind = "channel"

	// ChatKindChat is a chat of a kind that was not looked up
	ChatKindChat ChatKind = "chat"
)

type ChatInfo struct {
	ID       string
	Title    *string
	Kind     ChatKind
	Username *string
}

// ChatStat is a number of buffered messages of a chat
type ChatStat struct {
	ChatID string
	Count  int
}

type BotInfo struct {
	ID        int64
	FirstName string
	Username  string
	IsBot     bool
}
