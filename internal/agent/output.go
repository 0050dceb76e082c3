package agent

import (
	"regexp"
	"strings"
)

// Output processing strips the usual LLM tells before text reaches chat:
// em dashes, hedge openers, closer phrases, transitional fillers.

var (
	emDashRe = regexp.MustCompile(`\s*—\s*`)

	hedgeOpenerRe = regexp.MustCompile(`(?i)^(certainly|absolutely|of course|great question|sure thing|happy to help)[!.,]\s*`)

	closerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*(hope (this|that) helps!?|let me know if you (need|have|want)[^.!?]*[.!?]?|feel free to (ask|reach out)[^.!?]*[.!?]?|is there anything else[^?]*\?)\s*$`),
		regexp.MustCompile(`(?i)\s*don't hesitate to[^.!?]*[.!?]?\s*$`),
	}

	fillerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(to summarize|in summary|in conclusion)[:,]\s*`),
		regexp.MustCompile(`(?i)\b(it'?s worth noting that|it'?s important to note that|as an ai[^,.]*,?)\s*`),
	}
)

// ProcessOutput cleans a reply for posting. Idempotent.
func ProcessOutput(text string) string {
	out := strings.TrimSpace(text)
	out = emDashRe.ReplaceAllString(out, ", ")
	out = hedgeOpenerRe.ReplaceAllString(out, "")
	for _, re := range closerRes {
		out = re.ReplaceAllString(out, "")
	}
	for _, re := range fillerRes {
		out = re.ReplaceAllString(out, "")
	}
	out = strings.TrimSpace(out)
	if out == "" {
		// Everything was filler; better an honest fallback than silence.
		return strings.TrimSpace(text)
	}
	// Stripping a hedge can leave a lowercase opener; recapitalize.
	if out[0] >= 'a' && out[0] <= 'z' {
		out = strings.ToUpper(out[:1]) + out[1:]
	}
	return out
}

// HasStructure reports whether the reply benefits from section blocks:
// markdown headers, long bullet runs, or divider lines.
func HasStructure(text string) bool {
	lines := strings.Split(text, "\n")
	bullets := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || trimmed == "---" {
			return true
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "• ") || strings.HasPrefix(trimmed, "* ") {
			bullets++
		}
	}
	return bullets >= 3
}
