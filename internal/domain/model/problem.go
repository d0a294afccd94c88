package model

import (
	"time"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Weight is the share a hidden test case of this difficulty takes of the problem's points.
func (d Difficulty) Weight() int {
	switch d {
	case DifficultyMedium:
		return 2
	case DifficultyHard:
		return 3
	default:
		return 1
	}
}

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

const (
	DefaultProblemPoints = 100
	DefaultTimeLimitMs   = 1000
	DefaultMemoryLimitKb = 256 * 1024
)

type Problem struct {
	ID            string     `json:"id"`
	ContestID     *string    `json:"contest_id,omitempty"`
	Title         string     `json:"title"`
	Points        float64    `json:"points"`
	TimeLimitMs   int        `json:"time_limit_ms"`
	MemoryLimitKb int        `json:"memory_limit_kb"`
	IsPractice    bool       `json:"is_practice"`
	IsVisible     bool       `json:"is_visible"`
	CreatedAt     time.Time  `json:"created_at"`
	TestCases     []TestCase `json:"test_cases,omitempty"`
}

type TestCase struct {
	ID             string     `json:"id"`
	ProblemID      string     `json:"problem_id"`
	Input          string     `json:"input"`
	ExpectedOutput string     `json:"expected_output"`
	Explanation    *string    `json:"explanation,omitempty"`
	IsHidden       bool       `json:"is_hidden"`
	Difficulty     Difficulty `json:"difficulty"`
	Points         float64    `json:"points"`
	CreatedAt      time.Time  `json:"created_at"`
}
