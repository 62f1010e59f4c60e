package agent

import (
	"fmt"
	"strings"

	"github.com/harun/aide/pkg/tools"
)

// Verdict is the outcome of a completion check
type Verdict string

const (
	VerdictComplete       Verdict = "complete"
	VerdictNeedsSynthesis Verdict = "needs_synthesis"
	VerdictNeedsResearch  Verdict = "needs_research"
)

// GateResult explains a completion verdict
type GateResult struct {
	Verdict       Verdict  `json:"verdict"`
	Complete      bool     `json:"is_complete"`
	HasResearch   bool     `json:"has_research"`
	HasSynthesis  bool     `json:"has_synthesis"`
	SearchCalls   int      `json:"search_calls"`
	Sections      int      `json:"sections"`
	EmptySections int      `json:"empty_sections"`
	ContentChars  int      `json:"content_chars"`
	Issues        []string `json:"issues,omitempty"`
}

// CompletionGate decides whether an autonomous run may answer yet
type CompletionGate struct {
	cfg AutonomousConfig
}

func NewCompletionGate(cfg AutonomousConfig) *CompletionGate {
	return &CompletionGate{cfg: cfg}
}

// Validate inspects the workspace and the invocation log of state.
// searchAvailable reports whether the user has any search tool at all; without
// one, missing research cannot block completion.
func (g *CompletionGate) Validate(state *SharedContext, searchAvailable bool) GateResult {
	res := GateResult{
		SearchCalls: len(state.Successful(tools.CategorySearch)),
	}
	res.HasResearch = res.SearchCalls > 0

	if state.Workspace != nil {
		doc := analyze(state.Workspace.Content)
		res.Sections = doc.sections
		res.EmptySections = doc.empty
		res.ContentChars = doc.chars
	}
	res.HasSynthesis = state.Synthesized || g.consolidated(res)

	minResearch := g.cfg.MinResearch[state.Complexity()]

	switch {
	case res.HasResearch && !res.HasSynthesis:
		res.Verdict = VerdictNeedsSynthesis
		res.Issues = append(res.Issues, fmt.Sprintf(
			"%d search results gathered but the workspace is not consolidated (%d of %d sections empty)",
			res.SearchCalls, res.EmptySections, res.Sections))
	case state.StepsCompleted > g.cfg.SynthesisStepThreshold && !res.HasSynthesis:
		res.Verdict = VerdictNeedsSynthesis
		res.Issues = append(res.Issues, fmt.Sprintf(
			"%d steps completed without a synthesized result", state.StepsCompleted))
	case searchAvailable && res.SearchCalls < minResearch:
		res.Verdict = VerdictNeedsResearch
		res.Issues = append(res.Issues, fmt.Sprintf(
			"only %d of %d searches done for a %s task", res.SearchCalls, minResearch, state.Complexity()))
	default:
		res.Verdict = VerdictComplete
		res.Complete = true
	}
	return res
}

// consolidated reports whether the workspace holds enough written content and
// at most half of its sections are empty.
func (g *CompletionGate) consolidated(res GateResult) bool {
	if res.Sections == 0 {
		return false
	}
	return res.ContentChars >= g.cfg.MinSynthesisChars && res.EmptySections*2 <= res.Sections
}

type docStats struct {
	sections int
	empty    int
	chars    int
}

type mdLine struct {
	text    string
	level   int // heading level, 0 for body lines
	content bool
}

type mdSection struct {
	start, end int
	empty      bool
}

func parseMarkdown(text string) ([]mdLine, []mdSection) {
	raw := strings.Split(text, "\n")
	lines := make([]mdLine, len(raw))
	inFence := false
	for i, l := range raw {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			lines[i] = mdLine{text: l, content: true}
			continue
		}
		if inFence {
			lines[i] = mdLine{text: l, content: trimmed != ""}
			continue
		}
		if lvl := headingLevel(trimmed); lvl > 0 {
			lines[i] = mdLine{text: l, level: lvl}
			continue
		}
		lines[i] = mdLine{text: l, content: trimmed != "" && !isPlaceholder(trimmed)}
	}

	var sections []mdSection
	for i, l := range lines {
		if l.level == 0 {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if lines[j].level > 0 && lines[j].level <= l.level {
				end = j
				break
			}
		}
		empty := true
		for j := i + 1; j < end; j++ {
			if lines[j].content {
				empty = false
				break
			}
		}
		sections = append(sections, mdSection{start: i, end: end, empty: empty})
	}
	return lines, sections
}

func analyze(text string) docStats {
	lines, sections := parseMarkdown(text)
	var st docStats
	st.sections = len(sections)
	for _, s := range sections {
		if s.empty {
			st.empty++
		}
	}
	for _, l := range lines {
		if l.content {
			st.chars += len(strings.TrimSpace(l.text))
		}
	}
	return st
}

// StripEmptySections removes headings whose section, subsections included,
// holds no content besides blank lines and placeholders.
func StripEmptySections(text string) string {
	lines, sections := parseMarkdown(text)
	drop := make([]bool, len(lines))
	for _, s := range sections {
		if !s.empty {
			continue
		}
		for j := s.start; j < s.end; j++ {
			drop[j] = true
		}
	}

	var b strings.Builder
	blank := 0
	for i, l := range lines {
		if drop[i] {
			continue
		}
		if strings.TrimSpace(l.text) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n < len(line) && line[n] != ' ' {
		return 0
	}
	return n
}

var placeholders = map[string]bool{
	"tbd": true, "todo": true, "n/a": true, "-": true, "...": true, "pending": true,
}

func isPlaceholder(line string) bool {
	if placeholders[strings.ToLower(line)] {
		return true
	}
	if len(line) >= 2 {
		first, last := line[0], line[len(line)-1]
		if (first == '_' && last == '_') || (first == '[' && last == ']') || (first == '<' && last == '>') {
			return true
		}
	}
	return false
}
