package service

import (
	"math"

	"tle_zone_contest/internal/domain/model"
)

// verdictPriority decides the overall verdict of a submission that did not pass every test case.
var verdictPriority = []model.SubmissionStatus{
	model.StatusCompilationError,
	model.StatusRuntimeError,
	model.StatusTimeLimitExceeded,
	model.StatusMemoryLimitExceeded,
	model.StatusWrongAnswer,
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func scoresEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// AggregateScore computes the verdict and score of a submission from its
// terminal results. JudgedAt is left for the caller to set.
func AggregateScore(results []model.TestCaseResult) model.JudgeOutcome {
	out := model.JudgeOutcome{Status: model.StatusInternalError}
	if len(results) == 0 {
		return out
	}

	seen := make(map[model.SubmissionStatus]bool, len(results))
	allPassed, noEvidence := true, true
	for _, r := range results {
		if r.Passed {
			out.Score += r.Points
		} else {
			allPassed = false
		}
		seen[r.Status] = true
		if r.Status != model.StatusInternalError && r.Status != model.StatusExecFormatError {
			noEvidence = false
		}
		if r.ExecutionTimeMs != nil && *r.ExecutionTimeMs > out.ExecutionTimeMs {
			out.ExecutionTimeMs = *r.ExecutionTimeMs
		}
		if r.MemoryUsedKb != nil && *r.MemoryUsedKb > out.MemoryUsedKb {
			out.MemoryUsedKb = *r.MemoryUsedKb
		}
		if out.CompileOutput == nil && r.CompileOutput != "" {
			co := r.CompileOutput
			out.CompileOutput = &co
		}
	}
	out.Score = round2(out.Score)

	switch {
	case allPassed:
		out.Status = model.StatusAccepted
		return out
	case noEvidence:
		// Nothing was judged: every unit failed inside the sandbox or never reached it.
		out.Status = model.StatusInternalError
		return out
	}
	for _, v := range verdictPriority {
		if seen[v] {
			out.Status = v
			return out
		}
	}
	out.Status = model.StatusWrongAnswer
	return out
}

// AllocatePoints distributes problemPoints over the hidden test cases by
// difficulty weight (EASY 1, MEDIUM 2, HARD 3). Sample test cases get zero.
// The input slice is not modified.
func AllocatePoints(problemPoints float64, testCases []model.TestCase) []model.TestCase {
	totalWeight := 0
	for _, tc := range testCases {
		if tc.IsHidden {
			totalWeight += tc.Difficulty.Weight()
		}
	}

	out := make([]model.TestCase, len(testCases))
	for i, tc := range testCases {
		tc.Points = 0
		if tc.IsHidden && totalWeight > 0 {
			tc.Points = round2(problemPoints * float64(tc.Difficulty.Weight()) / float64(totalWeight))
		}
		out[i] = tc
	}
	return out
}
