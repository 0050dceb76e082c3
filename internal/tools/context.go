package tools

import (
	"context"

	"github.com/lucyhq/lucy/internal/workspace"
)

type ctxKey int

const (
	workspaceKey ctxKey = iota
	channelKey
	threadKey
	userKey
)

// WithWorkspace attaches the run's workspace store.
func WithWorkspace(ctx context.Context, store *workspace.Store) context.Context {
	return context.WithValue(ctx, workspaceKey, store)
}

// WorkspaceFrom returns the run's workspace store, or nil.
func WorkspaceFrom(ctx context.Context) *workspace.Store {
	s, _ := ctx.Value(workspaceKey).(*workspace.Store)
	return s
}

// WithChannel attaches the channel the run replies into.
func WithChannel(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, channelKey, channelID)
}

func ChannelFrom(ctx context.Context) string {
	c, _ := ctx.Value(channelKey).(string)
	return c
}

// WithThread attaches the thread timestamp, when replying in a thread.
func WithThread(ctx context.Context, threadTS string) context.Context {
	return context.WithValue(ctx, threadKey, threadTS)
}

func ThreadFrom(ctx context.Context) string {
	t, _ := ctx.Value(threadKey).(string)
	return t
}

// WithUser attaches the requesting user's id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

func UserFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}
