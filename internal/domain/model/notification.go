package model

const (
	NotificationTestCaseResult   = "testCaseResult"
	NotificationSubmissionResult = "submissionResult"
	NotificationRunResult        = "runResult"
)

// Notification is the envelope pushed to a user's live connections.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TestCaseNotice reports one decoded test case result. Stdout and Stderr are
// nil when redacted.
type TestCaseNotice struct {
	SubmissionID    string           `json:"submissionId,omitempty"`
	TestCaseID      string           `json:"testCaseId,omitempty"`
	ProblemID       string           `json:"problemId,omitempty"`
	Status          SubmissionStatus `json:"status"`
	Stdout          *string          `json:"stdout,omitempty"`
	Stderr          *string          `json:"stderr,omitempty"`
	CompileOutput   string           `json:"compile_output"`
	Message         string           `json:"message"`
	ExecutionTimeMs *int             `json:"time,omitempty"`
	MemoryUsedKb    *int             `json:"memory,omitempty"`
}

type SubmissionNotice struct {
	SubmissionID string           `json:"submissionId"`
	Status       SubmissionStatus `json:"status"`
	Score        float64          `json:"score"`
	Results      []TestCaseResult `json:"results"`
}
