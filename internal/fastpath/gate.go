package fastpath

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucyhq/lucy/internal/agent"
)

// FastPathMaxChars is the message-length ceiling for fast-path handling.
const FastPathMaxChars = 60

// Intent classifies what the gate matched.
type Intent string

const (
	IntentNone     Intent = ""
	IntentGreeting Intent = "greeting"
	IntentStatus   Intent = "status"
	IntentHelp     Intent = "help"
	IntentCancel   Intent = "cancel"
)

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hiya|hey|hello|yo|howdy|good (morning|afternoon|evening)|morning|afternoon|evening)[\s!.,]*(lucy[\s!.,]*)?$`)
	statusRe   = regexp.MustCompile(`(?i)\b(what are you (working on|doing|up to)|status|any updates?|how('s| is) it going( with.*)?)\b`)
	helpRe     = regexp.MustCompile(`(?i)^\s*(help|what can you do|what do you do|how do (i|you) use (you|this))[\s?!.]*$`)
	cancelRe   = regexp.MustCompile(`(?i)^\s*(cancel( that| it)?|stop( that| it)?|nevermind|never mind|scratch that|forget (it|that))[\s!.]*$`)
)

// Gate intercepts trivial messages and out-of-band intents.
type Gate struct {
	pools *Pools
	board *agent.TaskBoard
}

func NewGate(pools *Pools, board *agent.TaskBoard) *Gate {
	return &Gate{pools: pools, board: board}
}

// Match classifies a message for fast-path handling. Thread replies never
// fast-path: depth implies context the canned pools cannot carry. Cancel and
// status are out-of-band and match regardless of length.
func Match(message string, threadDepth int) Intent {
	trimmed := strings.TrimSpace(message)
	if cancelRe.MatchString(trimmed) {
		return IntentCancel
	}
	if statusRe.MatchString(trimmed) {
		return IntentStatus
	}
	if len(trimmed) > FastPathMaxChars || threadDepth > 0 {
		return IntentNone
	}
	switch {
	case greetingRe.MatchString(trimmed):
		return IntentGreeting
	case helpRe.MatchString(trimmed):
		return IntentHelp
	}
	return IntentNone
}

// Reply produces the short-circuit response for a matched intent. The bool is
// false when the message should fall through to the agent after all.
func (g *Gate) Reply(intent Intent, workspaceID, threadTS string) (string, bool) {
	switch intent {
	case IntentGreeting:
		return g.pools.Pick(PoolGreeting), true
	case IntentHelp:
		return g.pools.Pick(PoolHelp), true
	case IntentStatus:
		if lines := g.board.StatusLines(workspaceID); lines != "" {
			return "Here's what I'm on right now:\n" + lines, true
		}
		return g.pools.Pick(PoolStatus), true
	case IntentCancel:
		if task := g.board.Cancel(workspaceID, threadTS); task != nil {
			return fmt.Sprintf("Stopped %q.", task.Description), true
		}
		return "Nothing was running, so there's nothing to cancel.", true
	}
	return "", false
}
