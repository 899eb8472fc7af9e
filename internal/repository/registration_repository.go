package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RegistrationRepository counts enrollments. Enrollment lifecycle belongs
// to another part of the system; the scheduler only reads.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// CountActiveByClass returns the number of active registrations.
func (r *RegistrationRepository) CountActiveByClass(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE class_id = $1 AND status = 'ACTIVE'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return count, nil
}

type classCountRow struct {
	ClassID string `db:"class_id"`
	Count   int    `db:"count"`
}

// CountActiveByClasses returns active registration counts keyed by class.
// Classes with no registrations are absent from the map.
func (r *RegistrationRepository) CountActiveByClasses(ctx context.Context, classIDs []string) (map[string]int, error) {
	if len(classIDs) == 0 {
		return map[string]int{}, nil
	}
	const query = `SELECT class_id, COUNT(*) AS count FROM registrations
		WHERE class_id = ANY($1) AND status = 'ACTIVE'
		GROUP BY class_id`
	var rows []classCountRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(classIDs)); err != nil {
		return nil, fmt.Errorf("count registrations by class: %w", err)
	}
	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.ClassID] = row.Count
	}
	return result, nil
}

// FirstRegistrationAt returns when the earliest active registration was
// created, or the zero time when the class has none. Backfill uses it to
// estimate how long a class took to start filling.
func (r *RegistrationRepository) FirstRegistrationAt(ctx context.Context, classID string) (time.Time, error) {
	const query = `SELECT created_at FROM registrations
		WHERE class_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at ASC LIMIT 1`
	var createdAt time.Time
	if err := r.db.GetContext(ctx, &createdAt, query, classID); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("first registration: %w", err)
	}
	return createdAt, nil
}
