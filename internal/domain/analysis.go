// Package domain defines the core types and error taxonomy for the AI service.
package domain

// EducationLevel describes the target audience for difficulty-tuned output.
type EducationLevel string

const (
	// EducationBeginner targets readers with no specialized background.
	EducationBeginner EducationLevel = "beginner"
	// EducationIntermediate targets readers with foundational knowledge.
	EducationIntermediate EducationLevel = "intermediate"
	// EducationAdvanced targets readers with expert-level knowledge.
	EducationAdvanced EducationLevel = "advanced"
)

// AllEducationLevels returns every supported education level.
func AllEducationLevels() []EducationLevel {
	return []EducationLevel{EducationBeginner, EducationIntermediate, EducationAdvanced}
}

// IsValid reports whether the level is one of the supported values.
func (l EducationLevel) IsValid() bool {
	switch l {
	case EducationBeginner, EducationIntermediate, EducationAdvanced:
		return true
	}
	return false
}

// AnalysisTask identifies one independent analysis output section.
type AnalysisTask string

const (
	// TaskSummary produces a summary of the retrieved papers.
	TaskSummary AnalysisTask = "summary"
	// TaskGapAnalysis produces an ordered list of research gaps.
	TaskGapAnalysis AnalysisTask = "gap_analysis"
	// TaskExplanation produces a difficulty-tuned explanation.
	TaskExplanation AnalysisTask = "explanation"
)

// AllTasks returns the default task set, in output order.
func AllTasks() []AnalysisTask {
	return []AnalysisTask{TaskSummary, TaskGapAnalysis, TaskExplanation}
}

// IsValid reports whether the task is one of the supported values.
func (t AnalysisTask) IsValid() bool {
	switch t {
	case TaskSummary, TaskGapAnalysis, TaskExplanation:
		return true
	}
	return false
}

// UserProfile describes the requesting user for prompt tuning.
type UserProfile struct {
	// EducationLevel controls the vocabulary and depth of the explanation task.
	EducationLevel EducationLevel
	// DomainInterests is an optional set of research domains the user cares about.
	DomainInterests []string
}

// AnalysisRequest is the immutable input to the analysis pipeline.
// It is passed by value and never mutated downstream.
type AnalysisRequest struct {
	// RawQuery is the user's research query as entered.
	RawQuery string
	// Profile describes the requesting user.
	Profile UserProfile
	// Tasks selects which analysis sections to produce.
	// Empty means all tasks (summary, gap analysis, explanation).
	Tasks []AnalysisTask
}

// RequestedTasks returns the effective task set for the request,
// defaulting to all tasks when none were selected.
func (r AnalysisRequest) RequestedTasks() []AnalysisTask {
	if len(r.Tasks) == 0 {
		return AllTasks()
	}
	return r.Tasks
}

// RefinedQuery is the output of query refinement.
type RefinedQuery struct {
	// Text is the query to send to the scraper.
	Text string
	// WasRefined reports whether refinement changed the raw query.
	WasRefined bool
}

// StructuredOutput is the terminal artifact returned to the Backend.
// Nil fields mean the corresponding task failed; the failure is reported
// through Warnings rather than silently dropped.
type StructuredOutput struct {
	// Summary is the paper summary, nil if the summary task failed.
	Summary *string
	// ResearchGaps is the ordered gap list, nil if the gap analysis task failed.
	ResearchGaps []string
	// Explanation is the difficulty-tuned explanation, nil if that task failed.
	Explanation *string
	// Warnings lists per-task failures as "<task> failed: <reason>".
	Warnings []string
	// PapersAnalyzed is the number of papers the analysis was based on.
	PapersAnalyzed int
}

// IsComplete reports whether every requested task succeeded.
func (o *StructuredOutput) IsComplete() bool {
	return len(o.Warnings) == 0
}

// IsPartial reports whether at least one task failed while another succeeded.
func (o *StructuredOutput) IsPartial() bool {
	return len(o.Warnings) > 0
}
