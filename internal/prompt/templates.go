// Package prompt holds the template library and the deterministic prompt
// builder used by the analysis pipeline.
package prompt

import (
	"fmt"

	"github.com/researchgenie/ai-service/internal/domain"
)

// Template is one prompt template resolved for a (task, education level) pair.
type Template struct {
	// Task is the analysis task this template serves.
	Task domain.AnalysisTask
	// Level is the education level this template is tuned for.
	Level domain.EducationLevel
	// System is the system instruction establishing the assistant role.
	System string
	// Audience describes the target reader, empty for level-independent tasks.
	Audience string
	// Instructions is the task block appended after the rendered papers.
	Instructions string
}

// audienceDescriptions maps each education level to its reader description
// injected into the explanation template.
var audienceDescriptions = map[domain.EducationLevel]string{
	domain.EducationBeginner:     "a general audience with no specialized knowledge",
	domain.EducationIntermediate: "an undergraduate student with foundational knowledge",
	domain.EducationAdvanced:     "a PhD researcher with expert-level knowledge",
}

const summarySystem = "You are a research assistant helping to summarize academic papers."

const summaryInstructions = `Task: Provide a comprehensive summary of these research papers in the context of the user's query.
Focus on:
1. Main findings and contributions
2. Methodologies used
3. Key results and conclusions
4. Relevance to the user's query

Keep the summary concise but informative (300-500 words).`

const gapsSystem = "You are a research analyst identifying gaps in current research."

const gapsInstructions = `Task: Identify and list the research gaps based on these papers.
Consider:
1. Areas not adequately addressed
2. Limitations mentioned by authors
3. Future research directions suggested
4. Missing perspectives or methodologies
5. Contradictions or inconsistencies in findings

Provide 5-7 specific research gaps as a numbered list.
Each gap should be clear, specific, and actionable.`

const explanationSystem = "You are an educator explaining research concepts."

const explanationInstructionsFmt = `Task: Explain the research findings in a way that %s can understand.

Guidelines:
1. Use appropriate language complexity for the education level
2. Include relevant examples or analogies
3. Avoid jargon unless it's appropriate for the level (then define it)
4. Focus on practical implications and real-world applications
5. Keep it engaging and accessible

Provide a clear, educational explanation (200-300 words).`

// Library resolves templates by task and education level. It is populated
// once at construction and read-only afterwards, so it is safe for
// concurrent use.
type Library struct {
	templates map[templateKey]Template
}

type templateKey struct {
	task  domain.AnalysisTask
	level domain.EducationLevel
}

// NewLibrary builds the default template library covering every
// (task, education level) pair.
func NewLibrary() *Library {
	lib := &Library{templates: make(map[templateKey]Template)}

	for _, level := range domain.AllEducationLevels() {
		lib.add(Template{
			Task:         domain.TaskSummary,
			Level:        level,
			System:       summarySystem,
			Instructions: summaryInstructions,
		})
		lib.add(Template{
			Task:         domain.TaskGapAnalysis,
			Level:        level,
			System:       gapsSystem,
			Instructions: gapsInstructions,
		})

		audience := audienceDescriptions[level]
		lib.add(Template{
			Task:         domain.TaskExplanation,
			Level:        level,
			System:       explanationSystem,
			Audience:     audience,
			Instructions: fmt.Sprintf(explanationInstructionsFmt, audience),
		})
	}

	return lib
}

func (l *Library) add(t Template) {
	l.templates[templateKey{task: t.Task, level: t.Level}] = t
}

// Lookup returns the template for the given task and education level.
// An invalid level falls back to intermediate, matching request validation
// defaults; an unknown task is an error.
func (l *Library) Lookup(task domain.AnalysisTask, level domain.EducationLevel) (Template, error) {
	if !level.IsValid() {
		level = domain.EducationIntermediate
	}
	t, ok := l.templates[templateKey{task: task, level: level}]
	if !ok {
		return Template{}, fmt.Errorf("no template for task %q", task)
	}
	return t, nil
}
