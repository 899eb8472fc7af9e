package dto

import "time"

// ProposeSchedulesRequest asks for bookable slots for a course.
type ProposeSchedulesRequest struct {
	CourseID string    `json:"course_id" validate:"required"`
	From     time.Time `json:"from"`
	Days     int       `json:"days" validate:"omitempty,min=1,max=60"`
}

// SuggestTeacherResponse carries a suggestion, or none when no teacher
// can take the class.
type SuggestTeacherResponse struct {
	TeacherID   *string `json:"teacher_id"`
	TeacherName string  `json:"teacher_name,omitempty"`
}

// AssignTeacherRequest binds a teacher to a class.
type AssignTeacherRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
}

// RescheduleClassRequest moves a class to a new first-session start.
type RescheduleClassRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
}

// PlannerRunResponse reports one planner execution.
type PlannerRunResponse struct {
	Created int `json:"created"`
}

// ExportScheduleRequest selects the schedule window and format.
type ExportScheduleRequest struct {
	From   time.Time `form:"from" validate:"required"`
	To     time.Time `form:"to" validate:"required"`
	Format string    `form:"format" validate:"omitempty,oneof=csv pdf"`
}
