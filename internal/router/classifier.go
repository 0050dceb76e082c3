// Package router classifies inbound messages into model tiers and dispatches
// chat-completion requests with a fallback chain.
package router

import (
	"regexp"
	"strings"
)

// Tiers. A tier names a model family in config; "frontier" is reserved for
// explicit escalation.
const (
	TierFast     = "fast"
	TierDefault  = "default"
	TierCode     = "code"
	TierResearch = "research"
	TierDocument = "document"
	TierFrontier = "frontier"
)

// Intents select prompt modules.
const (
	IntentChat         = "chat"
	IntentLookup       = "lookup"
	IntentConfirmation = "confirmation"
	IntentFollowup     = "followup"
	IntentToolUse      = "tool_use"
	IntentCommand      = "command"
	IntentCode         = "code"
	IntentReasoning    = "reasoning"
	IntentDocument     = "document"
)

// Classification is the classifier output.
type Classification struct {
	Intent string
	Tier   string
	Rule   string // name of the rule that fired
}

// Signals is the classifier input.
type Signals struct {
	Message          string
	ThreadDepth      int
	PrevHadToolCalls bool
}

var (
	greetingRe    = regexp.MustCompile(`(?i)^\s*(hi|hiya|hey|hello|yo|good (morning|afternoon|evening)|thanks?|thank you|ty|ok(ay)?|cool|great|nice|sure|yes|no|yep|nope)[\s!.,]*$`)
	actionVerbRe  = regexp.MustCompile(`(?i)\b(send|create|delete|update|schedule|book|cancel|post|draft|write|set up|add|remove|assign|invite|merge|deploy)\b`)
	bulkRe        = regexp.MustCompile(`(?i)\b(bulk|batch|all of them|every (row|record|file)|csv|spreadsheet|dataset|dedupe|migrate|parse (the|all))\b`)
	documentRe    = regexp.MustCompile(`(?i)\b(doc(ument)?|memo|proposal|report|spec|one[- ]pager|press release|blog post)\b`)
	heavyResearch = regexp.MustCompile(`(?i)\b(deep dive|thorough(ly)?|comprehensive|compare and contrast|literature|investigate|research)\b`)
	lightResearch = regexp.MustCompile(`(?i)\b(why|tradeoffs?|pros and cons|analy[sz]e|evaluate|implications?|think through|reason)\b`)
	codeRe        = regexp.MustCompile("(?i)\\b(func|def|class|package|import|SELECT|INSERT|regex|stack ?trace|debug|refactor|compile|unit test)\\b|```")
	externalRe    = regexp.MustCompile(`(?i)\b(calendar|email|inbox|gmail|meeting|jira|linear|github|ticket|issue|pr|pull request|drive|sheet|crm|deal|invoice)\b`)
	checkRe       = regexp.MustCompile(`(?i)^\s*(check|verify|is|are|did|does|has|have)\b`)
	questionRe    = regexp.MustCompile(`\?\s*$`)
)

// Rule is one ordered classifier rule. Match returns a non-nil classification
// when the rule fires.
type Rule struct {
	Name  string
	Match func(s Signals) *Classification
}

// Rules is the fixed evaluation order. Exposed so tests can enumerate them.
var Rules = []Rule{
	{"greeting", func(s Signals) *Classification {
		if !greetingRe.MatchString(s.Message) {
			return nil
		}
		if s.PrevHadToolCalls {
			return &Classification{Intent: IntentConfirmation, Tier: TierDefault}
		}
		return &Classification{Intent: IntentChat, Tier: TierFast}
	}},
	{"deep_thread_short", func(s Signals) *Classification {
		if len(s.Message) >= 50 || s.ThreadDepth <= 5 {
			return nil
		}
		if s.PrevHadToolCalls || actionVerbRe.MatchString(s.Message) {
			return &Classification{Intent: IntentFollowup, Tier: TierDefault}
		}
		return &Classification{Intent: IntentFollowup, Tier: TierFast}
	}},
	{"bulk_processing", func(s Signals) *Classification {
		if bulkRe.MatchString(s.Message) {
			return &Classification{Intent: IntentCode, Tier: TierDefault}
		}
		return nil
	}},
	{"document_creation", func(s Signals) *Classification {
		if documentRe.MatchString(s.Message) && actionVerbRe.MatchString(s.Message) {
			return &Classification{Intent: IntentDocument, Tier: TierDocument}
		}
		return nil
	}},
	{"research", func(s Signals) *Classification {
		if heavyResearch.MatchString(s.Message) || len(lightResearch.FindAllString(s.Message, -1)) >= 3 {
			return &Classification{Intent: IntentReasoning, Tier: TierResearch}
		}
		return nil
	}},
	{"code", func(s Signals) *Classification {
		if !codeRe.MatchString(s.Message) {
			return nil
		}
		if len(s.Message) < 80 && checkRe.MatchString(s.Message) {
			return nil
		}
		return &Classification{Intent: IntentCode, Tier: TierCode}
	}},
	{"external_data", func(s Signals) *Classification {
		if externalRe.MatchString(s.Message) {
			return &Classification{Intent: IntentToolUse, Tier: TierDefault}
		}
		return nil
	}},
	{"short_check", func(s Signals) *Classification {
		if len(s.Message) < 80 && checkRe.MatchString(s.Message) {
			return &Classification{Intent: IntentToolUse, Tier: TierDefault}
		}
		return nil
	}},
	{"short_question", func(s Signals) *Classification {
		if len(s.Message) < 50 && questionRe.MatchString(s.Message) && !externalRe.MatchString(s.Message) {
			return &Classification{Intent: IntentLookup, Tier: TierFast}
		}
		return nil
	}},
}

// Classify evaluates the rules in order and returns the first hit; when no
// rule fires, the default tier applies.
func Classify(s Signals) Classification {
	s.Message = strings.TrimSpace(s.Message)
	for _, r := range Rules {
		if c := r.Match(s); c != nil {
			c.Rule = r.Name
			return *c
		}
	}
	return Classification{Intent: IntentChat, Tier: TierDefault, Rule: "default"}
}

// PromptModules maps an intent to the prompt-module names the builder loads.
func PromptModules(intent string) []string {
	switch intent {
	case IntentCommand:
		return []string{"command", "integrations"}
	case IntentCode:
		return []string{"code", "coding"}
	case IntentReasoning:
		return []string{"reasoning", "research"}
	case IntentChat, IntentLookup, IntentConfirmation, IntentFollowup, IntentToolUse, IntentDocument:
		return []string{intent}
	default:
		return []string{IntentChat}
	}
}
