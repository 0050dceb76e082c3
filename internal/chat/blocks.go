package chat

import (
	"encoding/json"
	"strings"

	"github.com/slack-go/slack"

	"github.com/lucyhq/lucy/internal/agent"
)

// sectionLimit is Slack's ceiling for a section block's text.
const sectionLimit = 3000

// headerLimit is Slack's ceiling for a header block's text.
const headerLimit = 150

// BlocksFor renders structured reply text as Block Kit. Plain conversational
// replies return nil so they go out as ordinary messages.
func BlocksFor(text string) json.RawMessage {
	if !agent.HasStructure(text) {
		return nil
	}

	var blocks []slack.Block
	var section []string
	flush := func() {
		if len(section) == 0 {
			return
		}
		body := strings.TrimSpace(strings.Join(section, "\n"))
		section = section[:0]
		if body == "" {
			return
		}
		for _, chunk := range splitChunks(body, sectionLimit) {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, chunk, false, false), nil, nil))
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			flush()
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if len(title) > headerLimit {
				title = title[:headerLimit]
			}
			if title != "" {
				blocks = append(blocks, slack.NewHeaderBlock(
					slack.NewTextBlockObject(slack.PlainTextType, title, false, false)))
			}
		case trimmed == "---":
			flush()
			blocks = append(blocks, slack.NewDividerBlock())
		default:
			section = append(section, line)
		}
	}
	flush()

	if len(blocks) == 0 {
		return nil
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil
	}
	return raw
}

// splitChunks breaks body on line boundaries so no chunk exceeds limit.
func splitChunks(body string, limit int) []string {
	if len(body) <= limit {
		return []string{body}
	}
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if cur.Len() > 0 && cur.Len()+len(line)+1 > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if len(line) > limit {
			line = line[:limit]
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

const (
	// ApproveActionID and CancelActionID name the approval buttons in
	// interactive payloads.
	ApproveActionID = "hitl_approve"
	CancelActionID  = "hitl_cancel"
)

// ApprovalBlocks renders the hold-for-approval prompt with Approve and
// Cancel buttons carrying the pending action id.
func ApprovalBlocks(description, toolName, actionID string) json.RawMessage {
	body := description
	if body == "" {
		body = "I'm about to run *" + toolName + "*."
	}
	body += "\nApprove this action?"

	approve := slack.NewButtonBlockElement(ApproveActionID, actionID,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.Style = slack.StylePrimary
	cancel := slack.NewButtonBlockElement(CancelActionID, actionID,
		slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false))
	cancel.Style = slack.StyleDanger

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
		slack.NewActionBlock("approval", approve, cancel),
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil
	}
	return raw
}
