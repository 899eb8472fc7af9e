package models

// ScheduleOption is a recurring-rule tuple describing when a course
// recurs. Static configuration, never mutated at runtime.
type ScheduleOption struct {
	ID       string `db:"id" json:"id"`
	CourseID string `db:"course_id" json:"course_id"`
	// Weekday uses the 0=Sunday convention.
	Weekday int `db:"weekday" json:"weekday"`
	Hour    int `db:"hour" json:"hour"`
	Minute  int `db:"minute" json:"minute"`
	// IntervalWeeks is the cadence: 1, 2, 4 or 8.
	IntervalWeeks int `db:"interval_weeks" json:"interval_weeks"`
	// Offset selects which week of the cycle fires; negative means week 0.
	Offset int `db:"week_offset" json:"offset"`
}

// Shift is a named daily start time used by propose/backfill walks.
type Shift struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Hour   int    `db:"hour" json:"hour"`
	Minute int    `db:"minute" json:"minute"`
}

// Holiday marks a calendar date (business timezone) no weekly recurring
// session may land on.
type Holiday struct {
	Date string `db:"holiday_date" json:"date"` // YYYY-MM-DD
	Name string `db:"name" json:"name"`
}
