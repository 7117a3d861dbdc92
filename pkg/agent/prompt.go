package agent

import (
	"strings"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/memory"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/template"
)

// SystemPrompt renders the persona message for the given inputs.
func (a *Agent) SystemPrompt(inputs map[string]string) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(template.Interpolate(a.role, inputs))
	b.WriteString(".")
	if backstory := strings.TrimSpace(template.Interpolate(a.backstory, inputs)); backstory != "" {
		b.WriteString(" ")
		b.WriteString(backstory)
	}
	if goal := strings.TrimSpace(template.Interpolate(a.goal, inputs)); goal != "" {
		b.WriteString("\nYour personal goal is: ")
		b.WriteString(goal)
	}
	return b.String()
}

// TaskPrompt renders the user message: description, expected output,
// upstream context and the memory window. Empty sections are omitted.
func TaskPrompt(description, expectedOutput, context string, memories []memory.Record) string {
	var b strings.Builder
	b.WriteString("Current Task: ")
	b.WriteString(strings.TrimSpace(description))

	if expected := strings.TrimSpace(expectedOutput); expected != "" {
		b.WriteString("\n\nThis is the expected criteria for your final answer: ")
		b.WriteString(expected)
		b.WriteString("\nReturn the complete content as your final answer, not a summary.")
	}
	if ctx := strings.TrimSpace(context); ctx != "" {
		b.WriteString("\n\nThis is the context you're working with:\n")
		b.WriteString(ctx)
	}
	if len(memories) > 0 {
		b.WriteString("\n\nNotes from earlier work in this run:\n")
		b.WriteString(strings.TrimRight(memory.Render(memories), "\n"))
	}
	b.WriteString("\n\nUse the available tools when they help. When you are done, reply with your final answer and no tool calls.")
	return b.String()
}
