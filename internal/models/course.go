package models

import "time"

// Course is a read-only catalog entity. The scheduling core never writes
// courses.
type Course struct {
	ID              string    `db:"id" json:"id"`
	SubjectID       string    `db:"subject_id" json:"subject_id"`
	Name            string    `db:"name" json:"name"`
	Level           int       `db:"level" json:"level"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Capacity        int       `db:"capacity" json:"capacity"`
	Trial           bool      `db:"trial" json:"trial"`
	Regular         bool      `db:"regular" json:"regular"`
	Official        bool      `db:"official" json:"official"`
	Recurring       bool      `db:"recurring" json:"recurring"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Duration returns the course meeting length.
func (c Course) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// Subject is a catalog grouping for courses.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
