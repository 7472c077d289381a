package orchestrator

import (
	"fmt"
	"strings"

	"github.com/scribeworks/scribe/internal/chunker"
)

// defaultRequirement is used when the caller supplies no free-text prompt.
const defaultRequirement = "Generate comprehensive README documentation for this project."

const systemFraming = `You are a technical writer producing README documentation for a software project.

You will receive the project's file contents in one or more parts. For each part, write well-structured Markdown covering:
- Purpose and functionality of the code shown
- Key features and components
- Installation, usage and configuration where the files reveal them
- Dependencies and requirements
- Notable implementation details

Rules:
- Use "## " headings for top-level sections (Overview, Features, Installation, Usage, Configuration, Project Structure, Contributing, License as applicable).
- When a continuation summary of earlier parts is provided, extend or refine those sections instead of contradicting them; repeat a heading only when you are improving that section.
- Output ONLY Markdown. No preamble, no code fences around the whole document.`

const chunkPromptFormat = `%s

User requirements: %s

Project structure:
%s
%s
Code files (part %d of %d):
%s`

const recapFormat = `
Summary of the documentation produced from earlier parts (continue from here, do not restart):
%s
`

// buildPrompt assembles the full prompt for one chunk. From the second call
// onward, recap carries a condensed view of prior output so continuity is
// preserved without resending it.
func buildPrompt(requirement, tree, recap string, chunk chunker.Chunk, totalChunks int) string {
	if requirement == "" {
		requirement = defaultRequirement
	}
	recapSection := ""
	if recap != "" {
		recapSection = fmt.Sprintf(recapFormat, recap)
	}
	return fmt.Sprintf(chunkPromptFormat,
		systemFraming,
		requirement,
		tree,
		recapSection,
		chunk.Index+1,
		totalChunks,
		formatChunk(chunk),
	)
}

// formatChunk renders a chunk's entries with path headers.
func formatChunk(chunk chunker.Chunk) string {
	var sb strings.Builder
	for _, e := range chunk.Entries {
		sb.WriteString("// File: ")
		sb.WriteString(e.Path)
		sb.WriteString(" (")
		sb.WriteString(e.Language.String())
		if e.Truncated {
			sb.WriteString(", truncated")
		}
		sb.WriteString(")\n")
		sb.Write(e.Content)
		if len(e.Content) > 0 && e.Content[len(e.Content)-1] != '\n' {
			sb.WriteByte('\n')
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
