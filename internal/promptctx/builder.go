// Package promptctx assembles the consolidated system prompt: one message
// with XML-delimited sections, a windowed view of conversation history and
// a cheap token budget check.
package promptctx

import (
	"fmt"
	"strings"
)

// Section tags in injection order.
const (
	SectionMemories     = "user_memories"
	SectionProjects     = "active_projects"
	SectionNotes        = "relevant_notes"
	SectionActivity     = "recent_activity"
	SectionCapabilities = "capabilities"
	SectionSummary      = "conversation_summary"
)

// Builder accumulates XML-delimited sections over a base prompt. Empty
// sections are omitted; order of addition is preserved.
type Builder struct {
	base     string
	sections []section
}

type section struct {
	tag     string
	content string
}

// NewBuilder starts a builder over the base system prompt.
func NewBuilder(base string) *Builder {
	return &Builder{base: base}
}

// AddSection appends one tagged section. Blank content is dropped.
func (b *Builder) AddSection(tag, content string) *Builder {
	content = strings.TrimSpace(content)
	if content == "" {
		return b
	}
	b.sections = append(b.sections, section{tag: tag, content: content})
	return b
}

// BuildSystemMessage renders the single consolidated system prompt.
func (b *Builder) BuildSystemMessage() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(b.base))
	for _, s := range b.sections {
		fmt.Fprintf(&sb, "\n\n<%s>\n%s\n</%s>", s.tag, s.content, s.tag)
	}
	return sb.String()
}
