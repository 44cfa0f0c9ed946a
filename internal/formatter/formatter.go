// Package formatter validates raw LLM output and shapes it into the
// structures the pipeline returns. Formatting failures are terminal for the
// task that produced them; the pipeline never retries a format error.
package formatter

import (
	"regexp"
	"strings"

	"github.com/researchgenie/ai-service/internal/domain"
)

// refusalPatterns match provider refusal and error boilerplate that must not
// be passed off as analysis output. Matching is case-insensitive against the
// start of the response.
var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^i('m| am) sorry`),
	regexp.MustCompile(`(?i)^i (cannot|can't|won't|am unable to)`),
	regexp.MustCompile(`(?i)^(sorry|unfortunately),? (i|but i) (cannot|can't|am unable to)`),
	regexp.MustCompile(`(?i)^as an ai( language model)?`),
	regexp.MustCompile(`(?i)^\[?error\]?[:\s]`),
}

// gapLineRe matches a numbered or bulleted line and captures the item text.
var gapLineRe = regexp.MustCompile(`^\s*(?:\d+[.)]\s*|[-*•]\s+)(.+)$`)

// Formatter validates and decomposes raw generation output.
type Formatter struct{}

// New creates a Formatter.
func New() *Formatter {
	return &Formatter{}
}

// FormatText validates a free-text task result (summary, explanation).
// It trims surrounding whitespace, rejects empty responses with
// ErrEmptyResponse and refusal boilerplate with ErrRefusalDetected.
func (f *Formatter) FormatText(task domain.AnalysisTask, raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", domain.NewFormatError(task, domain.ErrEmptyResponse, "")
	}
	if isRefusal(text) {
		return "", domain.NewFormatError(task, domain.ErrRefusalDetected, firstLine(text))
	}
	return text, nil
}

// FormatGaps decomposes a gap-analysis response into an ordered list of gap
// statements. Numbered lines ("1. Gap") and bulleted lines ("- Gap") both
// qualify; multi-line items are folded into their opening line. A response
// that yields no items is ErrUnparsableStructure.
func (f *Formatter) FormatGaps(raw string) ([]string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, domain.NewFormatError(domain.TaskGapAnalysis, domain.ErrEmptyResponse, "")
	}
	if isRefusal(text) {
		return nil, domain.NewFormatError(domain.TaskGapAnalysis, domain.ErrRefusalDetected, firstLine(text))
	}

	var gaps []string
	for _, line := range strings.Split(text, "\n") {
		if m := gapLineRe.FindStringSubmatch(line); m != nil {
			gap := strings.TrimSpace(m[1])
			if gap != "" {
				gaps = append(gaps, gap)
			}
			continue
		}
		// Continuation lines extend the current item.
		if cont := strings.TrimSpace(line); cont != "" && len(gaps) > 0 {
			gaps[len(gaps)-1] += " " + cont
		}
	}

	if len(gaps) == 0 {
		return nil, domain.NewFormatError(domain.TaskGapAnalysis, domain.ErrUnparsableStructure, firstLine(text))
	}
	return gaps, nil
}

// isRefusal reports whether the text opens with refusal boilerplate.
func isRefusal(text string) bool {
	for _, re := range refusalPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// firstLine returns the first line of text for error detail, capped short.
func firstLine(text string) string {
	const maxLen = 120
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if len(line) > maxLen {
		line = line[:maxLen]
	}
	return line
}
