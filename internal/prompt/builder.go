// Package prompt composes the system prompt from persona, instructions,
// workspace skills, knowledge, session memory, and environment sections.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucyhq/lucy/internal/skills"
	"github.com/lucyhq/lucy/internal/workspace"
)

// SkillBodyBudget caps the total bytes of skill bodies injected per prompt.
const SkillBodyBudget = 20 * 1024

// MaxRelevantSkills caps how many skill bodies one message can pull in.
const MaxRelevantSkills = 3

const truncationMarker = "\n[skill content truncated to fit the prompt budget]"

// Input carries everything one prompt composition needs.
type Input struct {
	UserMessage       string
	UserID            string
	ConnectedServices []string
	// Integrations maps custom integration name → readiness status.
	Integrations map[string]string
	ChannelName  string
	ChannelTopic string
}

// Builder composes system prompts. Persona and instruction templates are
// re-read on every call so edits take effect without a restart.
type Builder struct {
	assetsDir string
	store     *workspace.Store
	loader    *skills.Loader
}

func NewBuilder(assetsDir string, store *workspace.Store) *Builder {
	return &Builder{
		assetsDir: assetsDir,
		store:     store,
		loader:    skills.NewLoader(store),
	}
}

// Build concatenates the prompt sections in fixed order. Sections with no
// content are omitted entirely.
func (b *Builder) Build(in Input) (string, error) {
	persona, err := b.readAsset("persona.md")
	if err != nil {
		return "", fmt.Errorf("read persona: %w", err)
	}
	instructions, err := b.readAsset("instructions.md")
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}

	all := b.loader.LoadAll()
	var sections []string
	sections = append(sections, strings.TrimSpace(persona))
	sections = append(sections, b.instructionsSection(instructions, all))

	if in.UserMessage != "" {
		if s := b.relevantSkillsSection(in.UserMessage); s != "" {
			sections = append(sections, s)
		}
	}
	if s := b.knowledgeSection(); s != "" {
		sections = append(sections, s)
	}
	if s := b.memorySection(); s != "" {
		sections = append(sections, s)
	}
	if s := environmentSection(in.ConnectedServices); s != "" {
		sections = append(sections, s)
	}
	if s := b.preferencesSection(in.UserID); s != "" {
		sections = append(sections, s)
	}
	if s := integrationsSection(in.Integrations); s != "" {
		sections = append(sections, s)
	}
	if s := channelSection(in.ChannelName, in.ChannelTopic); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, "\n\n"), nil
}

func (b *Builder) readAsset(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(b.assetsDir, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// instructionsSection substitutes {available_skills} with the skill listing.
func (b *Builder) instructionsSection(template string, all []*skills.Skill) string {
	var lines []string
	for _, sk := range all {
		lines = append(lines, "- "+sk.Name+": "+sk.Description)
	}
	listing := "(no skills installed)"
	if len(lines) > 0 {
		listing = strings.Join(lines, "\n")
	}
	return strings.TrimSpace(strings.ReplaceAll(template, "{available_skills}", listing))
}

// relevantSkillsSection injects up to MaxRelevantSkills bodies whose triggers
// match the message, capped at SkillBodyBudget bytes in total.
func (b *Builder) relevantSkillsSection(message string) string {
	matched := b.loader.Relevant(message, MaxRelevantSkills)
	if len(matched) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Relevant skills\n")
	budget := SkillBodyBudget
	truncated := false
	for _, sk := range matched {
		header := "\n### " + sk.Name + "\n"
		body := strings.TrimSpace(sk.Body)
		if len(header)+len(body) > budget {
			avail := budget - len(header)
			if avail <= 0 {
				truncated = true
				break
			}
			body = body[:avail]
			truncated = true
		}
		sb.WriteString(header)
		sb.WriteString(body)
		sb.WriteString("\n")
		budget -= len(header) + len(body)
		if truncated {
			break
		}
	}
	if truncated {
		sb.WriteString(truncationMarker)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// knowledgeSection inlines the team and company skill bodies.
func (b *Builder) knowledgeSection() string {
	team := b.loader.Team()
	company := b.loader.Company()
	if team == nil && company == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Knowledge\n")
	if company != nil {
		sb.WriteString("\n### Company\n" + strings.TrimSpace(company.Body) + "\n")
	}
	if team != nil {
		sb.WriteString("\n### Team\n" + strings.TrimSpace(team.Body) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) memorySection() string {
	facts, err := b.store.ReadMemory()
	if err != nil || len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Session memory\n")
	for _, f := range facts {
		sb.WriteString("\n- [" + f.Category + "] " + f.Fact)
	}
	return sb.String()
}

// preferencesSection renders preferences/{user_id}.json as key: value lines.
func (b *Builder) preferencesSection(userID string) string {
	if userID == "" {
		return ""
	}
	raw, err := b.store.Read("preferences/" + userID + ".json")
	if err != nil {
		return ""
	}
	var prefs map[string]any
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil || len(prefs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("## User preferences\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("\n- %s: %v", k, prefs[k]))
	}
	return sb.String()
}

func environmentSection(connected []string) string {
	if len(connected) == 0 {
		return ""
	}
	sorted := append([]string(nil), connected...)
	sort.Strings(sorted)
	var sb strings.Builder
	sb.WriteString("## Current environment\n\nConnected services: ")
	sb.WriteString(strings.Join(sorted, ", "))
	sb.WriteString("\n\nSlack is already connected; never ask the user to reconnect it.")
	return sb.String()
}

func integrationsSection(integrations map[string]string) string {
	if len(integrations) == 0 {
		return ""
	}
	names := make([]string, 0, len(integrations))
	for name := range integrations {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	sb.WriteString("## Custom integrations\n")
	for _, name := range names {
		sb.WriteString("\n- " + name + " (" + integrations[name] + ")")
	}
	return sb.String()
}

func channelSection(name, topic string) string {
	if name == "" {
		return ""
	}
	s := "## Channel\n\nYou are replying in #" + name + "."
	if topic != "" {
		s += " Topic: " + topic
	}
	return s
}
