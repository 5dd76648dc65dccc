// Package prompts builds the fixed prompt texts sent to agents and the
// inference gateway. Wording here is part of the pipeline contract: the
// parser's heading rules assume the section format these prompts request.
package prompts

import (
	"fmt"
	"strings"

	"github.com/colloquyhq/colloquy/internal/knowledge"
	"github.com/colloquyhq/colloquy/internal/response"
	"github.com/colloquyhq/colloquy/internal/roles"
)

// Research builds the first-round prompt for the researcher agent
func Research(topic string) string {
	return fmt.Sprintf(
		"Research Topic: %s\n\n"+
			"You are the Research Agent. Your role is to:\n"+
			"- Conduct comprehensive initial research\n"+
			"- Identify key areas and trends\n"+
			"- Generate focused questions\n"+
			"- Provide detailed findings with evidence\n\n"+
			"Your response should include:\n"+
			"- 7-8 distinct sections\n"+
			"- 4-6 detailed points per section\n"+
			"- Specific examples and evidence\n"+
			"- 4-6 follow-up questions\n\n"+
			"IMPORTANT: Focus on gathering factual information and evidence. "+
			"Do not include analysis or synthesis - that will be done by other agents.\n\n"+
			"Format each section as:\n"+
			"Section: [Topic]\n"+
			"- [Detailed point with evidence]\n"+
			"- [Detailed point with evidence]\n"+
			"etc.",
		topic)
}

// Agent builds the prompt for rounds after the first: the role's guidelines
// anchored to the narrowed topic, the open questions to address, and the
// prior findings the agent should build on rather than restate.
func Agent(role roles.Spec, narrowedTopic string, bundle knowledge.Bundle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Topic: %s\n\n", narrowedTopic)
	b.WriteString(role.Guidelines)
	b.WriteString("\n\n")

	if len(bundle.PreviousQuestions) > 0 {
		b.WriteString("Questions to address:\n")
		b.WriteString(FormatQuestions(bundle.PreviousQuestions))
		b.WriteString("\n\n")
	}

	if len(bundle.RelevantFindings) > 0 {
		b.WriteString("Remember to build upon these previous findings rather than repeating them:\n")
		b.WriteString(FormatFindings(bundle.RelevantFindings))
	} else {
		b.WriteString("There are no prior findings yet; contribute the first set for this topic.")
	}

	return b.String()
}

// Summary builds the topic-narrowing prompt from a round's questions
func Summary(questions []string, topic string) string {
	return fmt.Sprintf(
		"Based on the following questions about %s, "+
			"create a focused research topic that encompasses all these questions. "+
			"The topic should be specific, actionable, and guide the next phase of research.\n\n"+
			"Questions to consider:\n%s\n\n"+
			"Provide a single, well-formed topic that captures the essence of these questions.",
		topic, FormatQuestions(questions))
}

// FormatFindings renders findings as "- Section: point, point" lines
func FormatFindings(findings []response.Finding) string {
	lines := make([]string, 0, len(findings))
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Section, strings.Join(f.Points, ", ")))
	}
	return strings.Join(lines, "\n")
}

// FormatQuestions renders questions as "- question" lines
func FormatQuestions(questions []string) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		lines = append(lines, "- "+q)
	}
	return strings.Join(lines, "\n")
}
