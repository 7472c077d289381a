package orchestrator

import "strings"

// document accumulates merged output across chunk calls. Sections are keyed
// by top-level heading; a heading produced again by a later call replaces the
// earlier body (last write wins) while keeping its first-seen position.
type document struct {
	preamble []string // text before any heading, in arrival order
	order    []string // canonical heading keys, first-seen order
	headings map[string]string // key -> heading line as first written
	sections map[string]string // key -> body
}

func newDocument() *document {
	return &document{
		headings: make(map[string]string),
		sections: make(map[string]string),
	}
}

// isHeading reports whether line starts a top-level section ("# " or "## ").
func isHeading(line string) bool {
	return strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ")
}

// headingKey keys a section by marker level plus lowercased text, so
// "# Title" and "## Title" stay distinct and text like "#1" survives.
func headingKey(line string) string {
	marker, rest, _ := strings.Cut(line, " ")
	return marker + " " + strings.ToLower(strings.TrimSpace(rest))
}

// headingText is the heading line without its marker.
func headingText(line string) string {
	_, rest, _ := strings.Cut(line, " ")
	return strings.TrimSpace(rest)
}

// merge folds one model response into the document.
func (d *document) merge(text string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	var key string
	var body []string

	flush := func() {
		if key == "" {
			if chunk := strings.TrimSpace(strings.Join(body, "\n")); chunk != "" {
				d.preamble = append(d.preamble, chunk)
			}
			body = nil
			return
		}
		if _, seen := d.sections[key]; !seen {
			d.order = append(d.order, key)
		}
		d.sections[key] = strings.TrimSpace(strings.Join(body, "\n"))
		body = nil
	}

	for _, line := range lines {
		if isHeading(line) {
			flush()
			key = headingKey(line)
			if _, seen := d.headings[key]; !seen {
				d.headings[key] = line
			}
			continue
		}
		body = append(body, line)
	}
	flush()
}

// render produces the final Markdown.
func (d *document) render() string {
	var parts []string
	if len(d.preamble) > 0 {
		parts = append(parts, strings.Join(d.preamble, "\n\n"))
	}
	for _, key := range d.order {
		section := d.headings[key]
		if body := d.sections[key]; body != "" {
			section += "\n\n" + body
		}
		parts = append(parts, section)
	}
	return strings.Join(parts, "\n\n")
}

func (d *document) empty() bool {
	return len(d.preamble) == 0 && len(d.order) == 0
}

// recapLimit bounds the continuation summary included in later prompts.
const recapLimit = 1500

// recap condenses the document for the next prompt: the section inventory
// plus the tail of the rendered text, bounded so prior output is never
// resent in full.
func (d *document) recap() string {
	if d.empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Sections so far: ")
	if len(d.order) == 0 {
		sb.WriteString("(none)")
	}
	for i, key := range d.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(headingText(d.headings[key]))
	}
	sb.WriteString("\n")

	tail := d.render()
	if len(tail) > recapLimit {
		tail = tail[len(tail)-recapLimit:]
		// Avoid starting mid-line.
		if i := strings.IndexByte(tail, '\n'); i >= 0 {
			tail = tail[i+1:]
		}
	}
	sb.WriteString("Most recent content:\n")
	sb.WriteString(tail)
	return sb.String()
}
