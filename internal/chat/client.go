package chat

import (
	"context"
	"encoding/json"
)

// Event is one inbound workspace message, normalized off the wire.
type Event struct {
	TeamID    string
	ChannelID string
	UserID    string
	TS        string
	ThreadTS  string // empty for top-level messages
	Text      string
	IsDM      bool
	Mentioned bool
}

// Key identifies an event for receipt dedup.
func (e Event) Key() string { return e.TeamID + ":" + e.ChannelID + ":" + e.TS }

// Action is a button press on an interactive message.
type Action struct {
	TeamID    string
	ChannelID string
	ThreadTS  string
	UserID    string
	ActionID  string // the pending-approval id carried in the button value
	Decision  string // "approve" or "cancel"
}

// Handler receives normalized events from a running client.
type Handler interface {
	HandleMessage(ctx context.Context, ev Event)
	HandleAction(ctx context.Context, act Action)
}

// PostRequest describes one outbound message. Blocks, when set, is a raw
// Block Kit array and takes precedence over Text for rendering; Text still
// feeds the notification fallback.
type PostRequest struct {
	ChannelID string
	Text      string
	Blocks    json.RawMessage
	ThreadTS  string
}

// Client is the chat surface the rest of the system talks through.
type Client interface {
	Post(ctx context.Context, req PostRequest) (ts string, err error)
	Update(ctx context.Context, channelID, ts string, req PostRequest) error
	AddReaction(ctx context.Context, channelID, ts, emoji string) error
	RemoveReaction(ctx context.Context, channelID, ts, emoji string) error
	ChannelInfo(ctx context.Context, channelID string) (name, topic string, err error)
	// OpenDM resolves the direct-message channel for a user.
	OpenDM(ctx context.Context, userID string) (channelID string, err error)
	// UserTimezone resolves a user's UTC offset in hours and zone label.
	UserTimezone(ctx context.Context, userID string) (offsetHours float64, label string, err error)
}
