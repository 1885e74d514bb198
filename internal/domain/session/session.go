package session

import (
	"time"
)

// UTM holds campaign attribution captured when a session starts.
// Empty fields were absent from the landing URL.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// IsEmpty reports whether no parameter was captured
func (u UTM) IsEmpty() bool {
	return u == UTM{}
}

// Session represents one continuous period of client activity
type Session struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	LastActivity      time.Time `json:"last_activity"`
	EventCount        int       `json:"event_count"`
	IsFirstSession    bool      `json:"is_first_session"`
	PageViewCount     int       `json:"page_view_count"`
	CurrentPath       string    `json:"current_path,omitempty"`
	PreviousPath      string    `json:"previous_path,omitempty"`
	UTM               UTM       `json:"utm"`
	PageViewStartedAt time.Time `json:"-"`
}

// IsExpired reports whether the session saw no activity within timeout
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) >= timeout
}

// UpdateActivity moves the last activity timestamp forward. It never moves backwards.
func (s *Session) UpdateActivity(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// RecordPageView shifts the current path to previous and counts the view
func (s *Session) RecordPageView(path string, now time.Time) {
	s.PreviousPath = s.CurrentPath
	s.CurrentPath = path
	s.PageViewCount++
	s.PageViewStartedAt = now
}
