package models

import (
	"time"

	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

// MinuteWindow is a [Start, End) range of minutes since local midnight
// (0-1439).
type MinuteWindow struct {
	Start int `db:"start_minute" json:"start"`
	End   int `db:"end_minute" json:"end"`
}

// WeekdayWindows lists the declared working windows for one weekday.
// Weekday uses the 0=Sunday convention. Windows are pre-merged, sorted and
// non-overlapping.
type WeekdayWindows struct {
	Weekday int            `json:"weekday"`
	Windows []MinuteWindow `json:"windows"`
}

// TimeOff is an absolute blackout period for a teacher.
type TimeOff struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
}

// Interval returns the blackout bounds.
func (t TimeOff) Interval() timeutil.Interval {
	return timeutil.NewInterval(t.StartAt, t.EndAt)
}

// Qualification links a teacher to a course they may teach, with the
// priority token balance that drives trial rotation.
type Qualification struct {
	TeacherID string `db:"teacher_id" json:"teacher_id"`
	CourseID  string `db:"course_id" json:"course_id"`
	Priority  int    `db:"priority" json:"priority"`
}

// Teacher carries everything the scheduling core needs to answer
// availability questions: declared weekly windows, blackouts and course
// qualifications.
type Teacher struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Timezone  string    `db:"timezone" json:"timezone"`
	HiredAt   time.Time `db:"hired_at" json:"hired_at"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	AvailableTime  []WeekdayWindows `db:"-" json:"available_time"`
	TimeOffs       []TimeOff        `db:"-" json:"time_offs"`
	Qualifications []Qualification  `db:"-" json:"qualifications"`
}

// WindowsFor returns the declared windows for the given weekday
// (0=Sunday), or nil when the teacher does not work that day.
func (t *Teacher) WindowsFor(weekday int) []MinuteWindow {
	for _, day := range t.AvailableTime {
		if day.Weekday == weekday {
			return day.Windows
		}
	}
	return nil
}

// QualificationFor returns the qualification for a course, or nil.
func (t *Teacher) QualificationFor(courseID string) *Qualification {
	for i := range t.Qualifications {
		if t.Qualifications[i].CourseID == courseID {
			return &t.Qualifications[i]
		}
	}
	return nil
}

// TenureAt returns how long the teacher has been on board at the instant.
func (t *Teacher) TenureAt(now time.Time) time.Duration {
	if t.HiredAt.IsZero() || now.Before(t.HiredAt) {
		return 0
	}
	return now.Sub(t.HiredAt)
}
