package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lumina-edu/scheduler-api/internal/models"
)

// ScheduleOptionRepository reads static recurrence rules and the daily
// shift table.
type ScheduleOptionRepository struct {
	db *sqlx.DB
}

// NewScheduleOptionRepository constructs a ScheduleOptionRepository.
func NewScheduleOptionRepository(db *sqlx.DB) *ScheduleOptionRepository {
	return &ScheduleOptionRepository{db: db}
}

// ListAll returns every recurrence rule grouped by course.
func (r *ScheduleOptionRepository) ListAll(ctx context.Context) (map[string][]models.ScheduleOption, error) {
	const query = `SELECT id, course_id, weekday, hour, minute, interval_weeks, week_offset
		FROM schedule_options ORDER BY course_id, weekday, hour, minute`
	var rows []models.ScheduleOption
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list schedule options: %w", err)
	}
	result := make(map[string][]models.ScheduleOption)
	for _, row := range rows {
		result[row.CourseID] = append(result[row.CourseID], row)
	}
	return result, nil
}

// ListShifts returns the daily shift table ordered by start time.
func (r *ScheduleOptionRepository) ListShifts(ctx context.Context) ([]models.Shift, error) {
	const query = `SELECT id, name, hour, minute FROM shifts ORDER BY hour, minute`
	var shifts []models.Shift
	if err := r.db.SelectContext(ctx, &shifts, query); err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	return shifts, nil
}
