package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fencePattern matches fenced code blocks with an optional language tag
var fencePattern = regexp.MustCompile("(?ms)^```[ \\t]*([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)^```[ \\t]*$")

// ParseSKILL parses a SKILL.md file and extracts metadata and content
func ParseSKILL(skillPath string) (*SkillDefinition, error) {
	data, err := os.ReadFile(skillPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SKILL.md: %w", err)
	}

	def, err := ParseDefinition(string(data))
	if err != nil {
		return nil, err
	}
	def.Content.BasePath = filepath.Dir(skillPath)

	if def.Metadata.Name == "" {
		def.Metadata.Name = filepath.Base(def.Content.BasePath)
	}
	return def, nil
}

// ParseDefinition parses SKILL.md text that is already in memory
func ParseDefinition(content string) (*SkillDefinition, error) {
	frontmatter, body, err := extractFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract frontmatter: %w", err)
	}

	var metadata SkillMetadata
	if err := yaml.Unmarshal([]byte(frontmatter), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter YAML: %w", err)
	}

	fields := map[string]any{}
	if err := yaml.Unmarshal([]byte(frontmatter), &fields); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter YAML: %w", err)
	}

	if metadata.ExecutorType != "" && !metadata.ExecutorType.Valid() {
		return nil, fmt.Errorf("unknown executor type: %s", metadata.ExecutorType)
	}

	return &SkillDefinition{
		Metadata: metadata,
		Content: SkillContent{
			Raw:          content,
			CodeBlocks:   ExtractCodeBlocks(body),
			FrontMatter:  fields,
			Instructions: strings.TrimSpace(body),
			LoadedAt:     time.Now(),
		},
	}, nil
}

// ExtractCodeBlocks returns the fenced code blocks of a markdown body in order
func ExtractCodeBlocks(body string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range fencePattern.FindAllStringSubmatch(body, -1) {
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(m[1]),
			Code:     m[2],
		})
	}
	return blocks
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns frontmatter, body, and error
func extractFrontmatter(content string) (string, string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---") {
		return "", content, fmt.Errorf("SKILL.md must start with YAML frontmatter (---)")
	}

	lines := strings.Split(content, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", content, fmt.Errorf("invalid frontmatter format: first line must be ---")
	}

	bodyStart := 1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			bodyStart = i + 1
			break
		}
	}

	if bodyStart == 1 {
		return "", content, fmt.Errorf("invalid frontmatter format: closing --- not found")
	}

	frontmatter := strings.Join(lines[1:bodyStart-1], "\n")
	body := strings.Join(lines[bodyStart:], "\n")

	return frontmatter, body, nil
}
