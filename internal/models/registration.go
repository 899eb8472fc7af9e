package models

import "time"

// RegistrationStatus enumerates enrollment states.
type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "ACTIVE"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
)

// Registration records one student's enrollment in a class. The scheduling
// core only counts them; enrollment lifecycle lives elsewhere.
type Registration struct {
	ID        string             `db:"id" json:"id"`
	ClassID   string             `db:"class_id" json:"class_id"`
	StudentID string             `db:"student_id" json:"student_id"`
	Status    RegistrationStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}
