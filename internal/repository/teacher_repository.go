package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lumina-edu/scheduler-api/internal/models"
)

// TeacherRepository manages persistence for teachers and their scheduling
// inputs (availability windows, time off, qualifications, sessions).
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// FindByID fetches a teacher by ID without relations.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	const query = `SELECT id, full_name, timezone, hired_at, active, created_at, updated_at FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ListForWindow loads every active teacher together with availability
// windows, time-off records and qualifications, plus the sessions of their
// assigned classes that overlap [start, end). When courseID is non-empty
// only teachers qualified for that course are returned. The load is a
// fixed number of set-based queries regardless of teacher count.
func (r *TeacherRepository) ListForWindow(ctx context.Context, start, end time.Time, courseID string) ([]models.Teacher, map[string][]models.Session, error) {
	teacherQuery := `SELECT id, full_name, timezone, hired_at, active, created_at, updated_at FROM teachers WHERE active = TRUE`
	args := []interface{}{}
	if courseID != "" {
		teacherQuery += ` AND id IN (SELECT teacher_id FROM teacher_qualifications WHERE course_id = $1)`
		args = append(args, courseID)
	}
	teacherQuery += ` ORDER BY id`

	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, teacherQuery, args...); err != nil {
		return nil, nil, fmt.Errorf("list teachers: %w", err)
	}
	if len(teachers) == 0 {
		return nil, map[string][]models.Session{}, nil
	}

	ids := make([]string, len(teachers))
	index := make(map[string]*models.Teacher, len(teachers))
	for i := range teachers {
		ids[i] = teachers[i].ID
		index[teachers[i].ID] = &teachers[i]
	}

	if err := r.attachAvailability(ctx, ids, index); err != nil {
		return nil, nil, err
	}
	if err := r.attachTimeOffs(ctx, ids, index); err != nil {
		return nil, nil, err
	}
	if err := r.attachQualifications(ctx, ids, index); err != nil {
		return nil, nil, err
	}

	sessions, err := r.sessionsForWindow(ctx, ids, start, end)
	if err != nil {
		return nil, nil, err
	}

	return teachers, sessions, nil
}

type availabilityRow struct {
	TeacherID   string `db:"teacher_id"`
	Weekday     int    `db:"weekday"`
	StartMinute int    `db:"start_minute"`
	EndMinute   int    `db:"end_minute"`
}

func (r *TeacherRepository) attachAvailability(ctx context.Context, ids []string, index map[string]*models.Teacher) error {
	const query = `SELECT teacher_id, weekday, start_minute, end_minute
		FROM teacher_availability
		WHERE teacher_id = ANY($1)
		ORDER BY teacher_id, weekday, start_minute`
	var rows []availabilityRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list teacher availability: %w", err)
	}
	for _, row := range rows {
		teacher := index[row.TeacherID]
		if teacher == nil {
			continue
		}
		window := models.MinuteWindow{Start: row.StartMinute, End: row.EndMinute}
		appended := false
		for i := range teacher.AvailableTime {
			if teacher.AvailableTime[i].Weekday == row.Weekday {
				teacher.AvailableTime[i].Windows = append(teacher.AvailableTime[i].Windows, window)
				appended = true
				break
			}
		}
		if !appended {
			teacher.AvailableTime = append(teacher.AvailableTime, models.WeekdayWindows{
				Weekday: row.Weekday,
				Windows: []models.MinuteWindow{window},
			})
		}
	}
	return nil
}

func (r *TeacherRepository) attachTimeOffs(ctx context.Context, ids []string, index map[string]*models.Teacher) error {
	const query = `SELECT id, teacher_id, start_at, end_at
		FROM teacher_time_offs
		WHERE teacher_id = ANY($1)
		ORDER BY teacher_id, start_at`
	var rows []models.TimeOff
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list teacher time offs: %w", err)
	}
	for _, row := range rows {
		if teacher := index[row.TeacherID]; teacher != nil {
			teacher.TimeOffs = append(teacher.TimeOffs, row)
		}
	}
	return nil
}

func (r *TeacherRepository) attachQualifications(ctx context.Context, ids []string, index map[string]*models.Teacher) error {
	const query = `SELECT teacher_id, course_id, priority
		FROM teacher_qualifications
		WHERE teacher_id = ANY($1)
		ORDER BY teacher_id, course_id`
	var rows []models.Qualification
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list teacher qualifications: %w", err)
	}
	for _, row := range rows {
		if teacher := index[row.TeacherID]; teacher != nil {
			teacher.Qualifications = append(teacher.Qualifications, row)
		}
	}
	return nil
}

type teacherSessionRow struct {
	TeacherID string `db:"teacher_id"`
	models.Session
}

func (r *TeacherRepository) sessionsForWindow(ctx context.Context, ids []string, start, end time.Time) (map[string][]models.Session, error) {
	const query = `SELECT c.teacher_id, s.id, s.class_id, s.idx, s.start_at, s.end_at
		FROM sessions s
		JOIN classes c ON c.id = s.class_id
		WHERE c.teacher_id = ANY($1)
		  AND c.active = TRUE
		  AND s.start_at < $3
		  AND s.end_at > $2
		ORDER BY c.teacher_id, s.start_at`
	var rows []teacherSessionRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids), start, end); err != nil {
		return nil, fmt.Errorf("list teacher sessions: %w", err)
	}
	result := make(map[string][]models.Session, len(ids))
	for _, row := range rows {
		result[row.TeacherID] = append(result[row.TeacherID], row.Session)
	}
	return result, nil
}

// ConsumeToken decrements a positive priority token balance for the
// (teacher, course) pair. Returns true when a token was consumed.
func (r *TeacherRepository) ConsumeToken(ctx context.Context, exec sqlx.ExtContext, teacherID, courseID string) (bool, error) {
	const query = `UPDATE teacher_qualifications SET priority = priority - 1
		WHERE teacher_id = $1 AND course_id = $2 AND priority > 0`
	res, err := exec.ExecContext(ctx, query, teacherID, courseID)
	if err != nil {
		return false, fmt.Errorf("consume trial token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume trial token rows: %w", err)
	}
	return affected > 0, nil
}

// RewardPeers increments the priority of every other teacher qualified for
// the course, capped at maxValue.
func (r *TeacherRepository) RewardPeers(ctx context.Context, exec sqlx.ExtContext, teacherID, courseID string, maxValue int) error {
	const query = `UPDATE teacher_qualifications SET priority = LEAST(priority + 1, $3)
		WHERE course_id = $2 AND teacher_id <> $1`
	if _, err := exec.ExecContext(ctx, query, teacherID, courseID, maxValue); err != nil {
		return fmt.Errorf("reward peer tokens: %w", err)
	}
	return nil
}
