package model

import "time"

type SubmissionStatus string

const (
	StatusInQueue             SubmissionStatus = "IN_QUEUE"
	StatusProcessing          SubmissionStatus = "PROCESSING"
	StatusAccepted            SubmissionStatus = "ACCEPTED"
	StatusWrongAnswer         SubmissionStatus = "WRONG_ANSWER"
	StatusTimeLimitExceeded   SubmissionStatus = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded SubmissionStatus = "MEMORY_LIMIT_EXCEEDED"
	StatusCompilationError    SubmissionStatus = "COMPILATION_ERROR"
	StatusRuntimeError        SubmissionStatus = "RUNTIME_ERROR"
	StatusInternalError       SubmissionStatus = "INTERNAL_ERROR"
	StatusExecFormatError     SubmissionStatus = "EXEC_FORMAT_ERROR" // test case results only
)

// IsTerminal reports whether no further transition is allowed from s.
func (s SubmissionStatus) IsTerminal() bool {
	return s != StatusInQueue && s != StatusProcessing && s != ""
}

// VerdictFromStatusID maps a sandbox status code to a verdict.
func VerdictFromStatusID(id int) SubmissionStatus {
	switch {
	case id == 1:
		return StatusInQueue
	case id == 2:
		return StatusProcessing
	case id == 3:
		return StatusAccepted
	case id == 4:
		return StatusWrongAnswer
	case id == 5:
		return StatusTimeLimitExceeded
	case id == 6:
		return StatusCompilationError
	case id >= 7 && id <= 12:
		return StatusRuntimeError
	case id == 13:
		return StatusInternalError
	case id == 14:
		return StatusExecFormatError
	default:
		return StatusInternalError
	}
}

type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ProblemID       string           `json:"problem_id"`
	LanguageID      int              `json:"language_id"`
	SourceCode      string           `json:"source_code"`
	Status          SubmissionStatus `json:"status"`
	Score           *float64         `json:"score,omitempty"`
	ExecutionTimeMs *int             `json:"execution_time_ms,omitempty"`
	MemoryUsedKb    *int             `json:"memory_used_kb,omitempty"`
	CompileOutput   *string          `json:"compile_output,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	JudgedAt        *time.Time       `json:"judged_at,omitempty"`
	TestCaseResults []TestCaseResult `json:"test_case_results,omitempty"`
}

// TestCaseResult is keyed by (SubmissionID, TestCaseID). Points and IsHidden
// are read from the test case, they are not stored on the result row.
type TestCaseResult struct {
	SubmissionID    string           `json:"submission_id"`
	TestCaseID      string           `json:"test_case_id"`
	Status          SubmissionStatus `json:"status"`
	Passed          bool             `json:"passed"`
	Stdout          string           `json:"stdout"`
	Stderr          string           `json:"stderr"`
	CompileOutput   string           `json:"compile_output,omitempty"`
	Message         string           `json:"message,omitempty"`
	ExecutionTimeMs *int             `json:"execution_time_ms,omitempty"`
	MemoryUsedKb    *int             `json:"memory_used_kb,omitempty"`
	Points          float64          `json:"points"`
	IsHidden        bool             `json:"is_hidden"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// JudgeOutcome is what finalization writes back to the submission row.
type JudgeOutcome struct {
	Status          SubmissionStatus
	Score           float64
	ExecutionTimeMs int
	MemoryUsedKb    int
	CompileOutput   *string
	JudgedAt        time.Time
}
