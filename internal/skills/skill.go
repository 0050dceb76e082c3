// Package skills reads SKILL.md files from a workspace. A skill is a markdown
// file with a YAML front-matter block (name, description, optional trigger
// patterns) and a body injected into the system prompt when relevant.
package skills

import (
	"bufio"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// Skill is one parsed SKILL.md.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers,omitempty"` // lowercase substrings that activate the body
	Body        string   `yaml:"-"`
	Path        string   `yaml:"-"` // workspace-relative
}

// Parse splits front-matter from body and validates required fields.
func Parse(content, relPath string) (*Skill, error) {
	front, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", relPath, err)
	}

	var sk Skill
	if err := yaml.Unmarshal([]byte(front), &sk); err != nil {
		return nil, fmt.Errorf("%s: parse frontmatter: %w", relPath, err)
	}
	if sk.Name == "" {
		return nil, fmt.Errorf("%s: skill name is required", relPath)
	}
	if sk.Description == "" {
		return nil, fmt.Errorf("%s: skill description is required", relPath)
	}
	sk.Body = strings.TrimSpace(body)
	sk.Path = relPath
	return &sk, nil
}

// Matches reports whether any trigger pattern appears in the message
// (case-insensitive). Skills without triggers never match implicitly.
func (s *Skill) Matches(message string) bool {
	if len(s.Triggers) == 0 {
		return false
	}
	lower := strings.ToLower(message)
	for _, trig := range s.Triggers {
		if trig != "" && strings.Contains(lower, strings.ToLower(trig)) {
			return true
		}
	}
	return false
}

func splitFrontmatter(content string) (front, body string, err error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return "", "", fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return "", "", fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return "", "", fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("scan: %w", err)
	}
	return strings.Join(frontLines, "\n"), strings.Join(bodyLines, "\n"), nil
}
