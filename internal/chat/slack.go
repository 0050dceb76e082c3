package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackClient speaks to one Slack workspace over Socket Mode for events and
// the Web API for posting.
type SlackClient struct {
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string
}

// NewSlackClient builds the client from a bot token (xoxb-) and an app-level
// token (xapp-).
func NewSlackClient(botToken, appToken string) *SlackClient {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &SlackClient{
		api:    api,
		socket: socketmode.New(api),
	}
}

// BotUserID is known after Run authenticates.
func (c *SlackClient) BotUserID() string { return c.botUserID }

// Run connects Socket Mode and dispatches events to handler until ctx is
// done. Each event is handled in its own goroutine so a slow agent run never
// blocks the socket.
func (c *SlackClient) Run(ctx context.Context, handler Handler) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	c.botUserID = auth.UserID
	slog.Info("slack connected", "bot_user", auth.UserID, "team", auth.Team)

	go c.dispatch(ctx, handler)
	return c.socket.RunContext(ctx)
}

func (c *SlackClient) dispatch(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnectionError:
				slog.Warn("slack socket error", "data", fmt.Sprint(evt.Data))
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, handler, evt)
			case socketmode.EventTypeInteractive:
				c.handleInteractive(ctx, handler, evt)
			case socketmode.EventTypeSlashCommand:
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
			}
		}
	}
}

func (c *SlackClient) handleEventsAPI(ctx context.Context, handler Handler, evt socketmode.Event) {
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		return
	}
	// Ack before handling; Slack retries unacked events.
	if evt.Request != nil {
		c.socket.Ack(*evt.Request)
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	var ev Event
	switch inner := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		ev = Event{
			TeamID:    apiEvent.TeamID,
			ChannelID: inner.Channel,
			UserID:    inner.User,
			TS:        inner.TimeStamp,
			ThreadTS:  inner.ThreadTimeStamp,
			Text:      c.stripMentions(inner.Text),
			Mentioned: true,
		}
	case *slackevents.MessageEvent:
		if inner.BotID != "" || inner.User == c.botUserID {
			return
		}
		if inner.SubType != "" {
			return
		}
		ev = Event{
			TeamID:    apiEvent.TeamID,
			ChannelID: inner.Channel,
			UserID:    inner.User,
			TS:        inner.TimeStamp,
			ThreadTS:  inner.ThreadTimeStamp,
			Text:      c.stripMentions(inner.Text),
			IsDM:      strings.HasPrefix(inner.Channel, "D"),
			Mentioned: strings.Contains(inner.Text, "<@"+c.botUserID+">"),
		}
	default:
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	go handler.HandleMessage(ctx, ev)
}

func (c *SlackClient) handleInteractive(ctx context.Context, handler Handler, evt socketmode.Event) {
	callback, ok := evt.Data.(slack.InteractionCallback)
	if !ok {
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		return
	}
	if evt.Request != nil {
		c.socket.Ack(*evt.Request)
	}
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, ba := range callback.ActionCallback.BlockActions {
		decision := ""
		switch ba.ActionID {
		case ApproveActionID:
			decision = "approve"
		case CancelActionID:
			decision = "cancel"
		default:
			continue
		}
		act := Action{
			TeamID:    callback.Team.ID,
			ChannelID: callback.Channel.ID,
			ThreadTS:  callback.Message.ThreadTimestamp,
			UserID:    callback.User.ID,
			ActionID:  ba.Value,
			Decision:  decision,
		}
		go handler.HandleAction(ctx, act)
	}
}

// stripMentions drops <@USERID> tokens so the model never sees raw mention
// syntax.
func (c *SlackClient) stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end < 0 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// Post sends a message, rendering Blocks when present.
func (c *SlackClient) Post(ctx context.Context, req PostRequest) (string, error) {
	opts, err := msgOptions(req)
	if err != nil {
		return "", err
	}
	_, ts, err := c.api.PostMessageContext(ctx, req.ChannelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post to %s: %w", req.ChannelID, err)
	}
	return ts, nil
}

// Update rewrites a previously posted message in place.
func (c *SlackClient) Update(ctx context.Context, channelID, ts string, req PostRequest) error {
	opts, err := msgOptions(req)
	if err != nil {
		return err
	}
	_, _, _, err = c.api.UpdateMessageContext(ctx, channelID, ts, opts...)
	if err != nil {
		return fmt.Errorf("slack update %s/%s: %w", channelID, ts, err)
	}
	return nil
}

func msgOptions(req PostRequest) ([]slack.MsgOption, error) {
	var opts []slack.MsgOption
	if len(req.Blocks) > 0 {
		var blocks slack.Blocks
		if err := json.Unmarshal(req.Blocks, &blocks); err != nil {
			return nil, fmt.Errorf("decode blocks: %w", err)
		}
		opts = append(opts, slack.MsgOptionBlocks(blocks.BlockSet...))
		if req.Text != "" {
			opts = append(opts, slack.MsgOptionText(req.Text, false))
		}
	} else {
		opts = append(opts, slack.MsgOptionText(req.Text, false))
	}
	if req.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(req.ThreadTS))
	}
	return opts, nil
}

func (c *SlackClient) AddReaction(ctx context.Context, channelID, ts, emoji string) error {
	err := c.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(channelID, ts))
	if err != nil && !strings.Contains(err.Error(), "already_reacted") {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (c *SlackClient) RemoveReaction(ctx context.Context, channelID, ts, emoji string) error {
	err := c.api.RemoveReactionContext(ctx, emoji, slack.NewRefToMessage(channelID, ts))
	if err != nil && !strings.Contains(err.Error(), "no_reaction") {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// OpenDM opens (or resumes) the direct-message conversation with a user.
func (c *SlackClient) OpenDM(ctx context.Context, userID string) (string, error) {
	ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return "", fmt.Errorf("open dm with %s: %w", userID, err)
	}
	return ch.ID, nil
}

// UserTimezone reads the user's profile timezone for time-window grounding.
func (c *SlackClient) UserTimezone(ctx context.Context, userID string) (float64, string, error) {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return 0, "", fmt.Errorf("user info %s: %w", userID, err)
	}
	return float64(user.TZOffset) / 3600, user.TZLabel, nil
}

// ChannelInfo resolves a channel's name and topic for prompt context.
func (c *SlackClient) ChannelInfo(ctx context.Context, channelID string) (string, string, error) {
	info, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return "", "", fmt.Errorf("conversation info %s: %w", channelID, err)
	}
	return info.Name, info.Topic.Value, nil
}

var _ Client = (*SlackClient)(nil)
