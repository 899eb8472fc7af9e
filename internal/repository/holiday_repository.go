package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lumina-edu/scheduler-api/internal/models"
)

// HolidayRepository reads the static holiday calendar.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository constructs a HolidayRepository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// ListAll returns every holiday ordered by date.
func (r *HolidayRepository) ListAll(ctx context.Context) ([]models.Holiday, error) {
	const query = `SELECT holiday_date, name FROM holidays ORDER BY holiday_date`
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	return holidays, nil
}
