package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/researchgenie/ai-service/internal/domain"
	"github.com/researchgenie/ai-service/internal/llm"
)

// defaultCharBudget bounds the rendered papers section when no explicit
// budget is configured.
const defaultCharBudget = 24000

// truncationMarker terminates an abstract that was cut to fit the budget.
const truncationMarker = " [...]"

// Builder renders deterministic prompts from templates and paper records.
type Builder struct {
	library    *Library
	charBudget int
}

// NewBuilder creates a Builder using the given library. charBudget caps the
// rendered papers section; zero means the default budget.
func NewBuilder(library *Library, charBudget int) *Builder {
	if charBudget <= 0 {
		charBudget = defaultCharBudget
	}
	return &Builder{library: library, charBudget: charBudget}
}

// Build renders the prompt for one task. The output is deterministic for
// identical inputs: papers render in the given order, abstracts are truncated
// to honor the character budget with earlier papers prioritized, and papers
// whose header no longer fits are dropped from the tail.
func (b *Builder) Build(task domain.AnalysisTask, query string, papers []domain.PaperRecord, profile domain.UserProfile) (llm.Prompt, error) {
	tmpl, err := b.library.Lookup(task, profile.EducationLevel)
	if err != nil {
		return llm.Prompt{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User's Research Query: %s\n\n", query)
	sb.WriteString("Research Papers:\n")
	sb.WriteString(b.renderPapers(papers))
	if tmpl.Audience != "" {
		fmt.Fprintf(&sb, "\nTarget Audience: %s\n", tmpl.Audience)
	}
	sb.WriteString("\n")
	sb.WriteString(tmpl.Instructions)

	return llm.Prompt{System: tmpl.System, User: sb.String()}, nil
}

// renderPapers renders the papers section within the character budget.
func (b *Builder) renderPapers(papers []domain.PaperRecord) string {
	var sb strings.Builder
	remaining := b.charBudget

	for i, paper := range papers {
		header := paperHeader(i+1, paper)
		// A paper whose header alone does not fit is dropped along with
		// everything after it; order implies priority.
		if len(header)+1 > remaining {
			break
		}

		abstract := strings.TrimSpace(paper.Abstract)
		block := header + "Abstract: " + abstract + "\n"
		if len(block)+1 > remaining {
			avail := remaining - 1 - len(header) - len("Abstract: \n") - len(truncationMarker)
			if avail < 0 {
				avail = 0
			}
			if avail < len(abstract) {
				abstract = truncateAtRune(abstract, avail)
			}
			block = header + "Abstract: " + abstract + truncationMarker + "\n"
		}

		sb.WriteString(block)
		sb.WriteString("\n")
		remaining -= len(block) + 1
	}

	return sb.String()
}

// truncateAtRune cuts s to at most n bytes without splitting a multi-byte
// rune; the cut backs off to the nearest rune boundary.
func truncateAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// paperHeader renders the per-paper fields that precede the abstract.
func paperHeader(n int, paper domain.PaperRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Paper %d:\n", n)
	fmt.Fprintf(&sb, "Title: %s\n", valueOrNA(paper.Title))
	fmt.Fprintf(&sb, "Authors: %s\n", valueOrNA(paper.Authors()))
	fmt.Fprintf(&sb, "Year: %s\n", valueOrNA(paper.Year()))
	return sb.String()
}

func valueOrNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
