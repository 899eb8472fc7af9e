package models

import "time"

// WeeklySessionCount is how many sessions a weekly or camp class carries.
const WeeklySessionCount = 4

// CampSpanDays is the widest window a 4-session class may cover and still
// count as a camp.
const CampSpanDays = 21

// Class is a schedulable unit tied to one course. Classes produced by the
// generator are unpersisted until the planner accepts them.
type Class struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	TeacherID *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Sessions []Session `db:"-" json:"sessions"`
}

// StartAt returns the first session's start, or the zero time when the
// class has no sessions.
func (c *Class) StartAt() time.Time {
	if len(c.Sessions) == 0 {
		return time.Time{}
	}
	return c.Sessions[0].StartAt
}

// EndAt returns the last session's end, or the zero time when the class
// has no sessions.
func (c *Class) EndAt() time.Time {
	if len(c.Sessions) == 0 {
		return time.Time{}
	}
	return c.Sessions[len(c.Sessions)-1].EndAt
}

// IsTrial reports whether the class is a single-session trial.
func (c *Class) IsTrial() bool {
	return len(c.Sessions) == 1
}

// IsCamp reports whether the class is a 4-session camp: the full span must
// fit inside the camp window, which weekly cadences never do.
func (c *Class) IsCamp() bool {
	if len(c.Sessions) != WeeklySessionCount {
		return false
	}
	span := c.EndAt().Sub(c.StartAt())
	return span < time.Duration(CampSpanDays)*24*time.Hour
}

// IsWeekly reports whether the class is a 4-session weekly cadence.
func (c *Class) IsWeekly() bool {
	return len(c.Sessions) == WeeklySessionCount && !c.IsCamp()
}

// HasTeacher reports whether a teacher is assigned.
func (c *Class) HasTeacher() bool {
	return c.TeacherID != nil && *c.TeacherID != ""
}
