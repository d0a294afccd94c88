package model

import "time"

// CallbackRef is the correlation tuple carried in the sandbox callback URL.
// Run-mode executions have IsSubmission=false and no submission or test case id.
type CallbackRef struct {
	UserID       string
	IsSubmission bool
	ProblemID    string
	TestCaseID   string
	SubmissionID string
}

// ExecutionRequest is one (code, input, expected output) unit sent to the sandbox.
type ExecutionRequest struct {
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
	CPUTimeLimit   float64 // seconds
	MemoryLimitKb  int
	Callback       CallbackRef
}

// ExecutionResult is a decoded sandbox outcome for one unit.
type ExecutionResult struct {
	Status          SubmissionStatus
	Passed          bool
	Stdout          string
	Stderr          string
	CompileOutput   string
	Message         string
	ExecutionTimeMs *int
	MemoryUsedKb    *int
}

// InternalErrorResult builds the terminal result recorded when no sandbox verdict will arrive.
func InternalErrorResult(message string) ExecutionResult {
	return ExecutionResult{Status: StatusInternalError, Message: message}
}

// VerdictEvent is published once per finalized submission.
type VerdictEvent struct {
	SubmissionID string           `json:"submission_id"`
	UserID       string           `json:"user_id"`
	ProblemID    string           `json:"problem_id"`
	ContestID    *string          `json:"contest_id,omitempty"`
	Status       SubmissionStatus `json:"status"`
	Score        float64          `json:"score"`
	JudgedAt     time.Time        `json:"judged_at"`
}
