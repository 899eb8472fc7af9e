package models

import (
	"time"

	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

// Session is one contiguous meeting of a class. Sessions of a class are
// ordered by Idx and never overlap each other.
type Session struct {
	ID      string    `db:"id" json:"id"`
	ClassID string    `db:"class_id" json:"class_id"`
	Idx     int       `db:"idx" json:"idx"`
	StartAt time.Time `db:"start_at" json:"start_at"`
	EndAt   time.Time `db:"end_at" json:"end_at"`
}

// Interval returns the session bounds as a half-open interval.
func (s Session) Interval() timeutil.Interval {
	return timeutil.NewInterval(s.StartAt, s.EndAt)
}
