package model

import "time"

type Contest struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsVisible bool      `json:"is_visible"`
}

// IsLive reports whether now falls inside [StartTime, EndTime].
func (c *Contest) IsLive(now time.Time) bool {
	return c != nil && !now.Before(c.StartTime) && !now.After(c.EndTime)
}

// Participation is a user's enrollment in one contest. TotalScore, Rank and
// ScoreUpdatedAt are written by the leaderboard recompute only.
type Participation struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ContestID      string    `json:"contest_id"`
	DisplayName    string    `json:"display_name"`
	TotalScore     float64   `json:"total_score"`
	Rank           *int      `json:"rank,omitempty"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
	JoinedAt       time.Time `json:"joined_at"`
}

type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	TotalScore     float64   `json:"total_score"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
}
