package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lumina-edu/scheduler-api/internal/models"
)

// ClassRepository manages persistence for classes and their sessions.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// BeginTxx opens a transaction on the underlying pool.
func (r *ClassRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// FindByID fetches a class with its ordered sessions.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, course_id, teacher_id, active, created_at, updated_at FROM classes WHERE id = $1`
	var klass models.Class
	if err := r.db.GetContext(ctx, &klass, query, id); err != nil {
		return nil, err
	}
	if err := r.attachSessions(ctx, []*models.Class{&klass}); err != nil {
		return nil, err
	}
	return &klass, nil
}

// ExistsByCourseAndStart reports whether a class for the course already
// starts at the exact instant. The planner uses it to dedupe candidates.
func (r *ClassRepository) ExistsByCourseAndStart(ctx context.Context, courseID string, startAt time.Time) (bool, error) {
	const query = `SELECT 1 FROM classes c
		JOIN sessions s ON s.class_id = c.id AND s.idx = 0
		WHERE c.course_id = $1 AND s.start_at = $2 AND c.active = TRUE
		LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, courseID, startAt); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class existence: %w", err)
	}
	return true, nil
}

// ListUnassignedOverlapping returns active, unassigned classes of official
// courses whose span overlaps [start, end), excluding the given class.
func (r *ClassRepository) ListUnassignedOverlapping(ctx context.Context, start, end time.Time, excludeClassID string) ([]models.Class, error) {
	const query = `SELECT DISTINCT c.id, c.course_id, c.teacher_id, c.active, c.created_at, c.updated_at
		FROM classes c
		JOIN sessions s ON s.class_id = c.id
		JOIN courses co ON co.id = c.course_id
		WHERE c.active = TRUE
		  AND c.teacher_id IS NULL
		  AND co.official = TRUE
		  AND c.id <> $3
		  AND s.start_at < $2
		  AND s.end_at > $1
		ORDER BY c.id`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, start, end, excludeClassID); err != nil {
		return nil, fmt.Errorf("list unassigned classes: %w", err)
	}
	refs := make([]*models.Class, len(classes))
	for i := range classes {
		refs[i] = &classes[i]
	}
	if err := r.attachSessions(ctx, refs); err != nil {
		return nil, err
	}
	return classes, nil
}

// ListOpenTrialsOnDay counts active trial classes of the course that start
// within the local day window and still have no teacher or open capacity.
func (r *ClassRepository) ListOpenTrialsOnDay(ctx context.Context, courseID string, dayStart, dayEnd time.Time) ([]models.Class, error) {
	const query = `SELECT c.id, c.course_id, c.teacher_id, c.active, c.created_at, c.updated_at
		FROM classes c
		JOIN sessions s ON s.class_id = c.id AND s.idx = 0
		JOIN courses co ON co.id = c.course_id
		LEFT JOIN (
			SELECT class_id, COUNT(*) AS cnt
			FROM registrations
			WHERE status = 'ACTIVE'
			GROUP BY class_id
		) r ON r.class_id = c.id
		WHERE c.course_id = $1
		  AND c.active = TRUE
		  AND s.start_at >= $2
		  AND s.start_at < $3
		  AND (c.teacher_id IS NULL OR COALESCE(r.cnt, 0) < co.capacity)
		ORDER BY s.start_at`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, courseID, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("list open trials: %w", err)
	}
	refs := make([]*models.Class, len(classes))
	for i := range classes {
		refs[i] = &classes[i]
	}
	if err := r.attachSessions(ctx, refs); err != nil {
		return nil, err
	}
	return classes, nil
}

// BulkCreate inserts classes and their sessions inside one transaction.
// IDs are assigned when missing.
func (r *ClassRepository) BulkCreate(ctx context.Context, tx *sqlx.Tx, classes []*models.Class) error {
	if len(classes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	const classQuery = `INSERT INTO classes (id, course_id, teacher_id, active, created_at, updated_at)
		VALUES (:id, :course_id, :teacher_id, :active, :created_at, :updated_at)`
	const sessionQuery = `INSERT INTO sessions (id, class_id, idx, start_at, end_at)
		VALUES (:id, :class_id, :idx, :start_at, :end_at)`

	for _, klass := range classes {
		if klass.ID == "" {
			klass.ID = uuid.NewString()
		}
		if klass.CreatedAt.IsZero() {
			klass.CreatedAt = now
		}
		klass.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, classQuery, klass); err != nil {
			return fmt.Errorf("create class: %w", err)
		}
		for i := range klass.Sessions {
			session := &klass.Sessions[i]
			if session.ID == "" {
				session.ID = uuid.NewString()
			}
			session.ClassID = klass.ID
			session.Idx = i
			if _, err := tx.NamedExecContext(ctx, sessionQuery, session); err != nil {
				return fmt.Errorf("create session: %w", err)
			}
		}
	}
	return nil
}

// AssignTeacher sets the teacher on a still unassigned class. The guard on
// teacher_id IS NULL turns the check-then-act window between occupancy
// load and commit into a detectable conflict instead of a double booking.
// Returns false when the class was already taken.
func (r *ClassRepository) AssignTeacher(ctx context.Context, exec sqlx.ExtContext, classID, teacherID string) (bool, error) {
	const query = `UPDATE classes SET teacher_id = $2, updated_at = $3
		WHERE id = $1 AND teacher_id IS NULL AND active = TRUE`
	res, err := exec.ExecContext(ctx, query, classID, teacherID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("assign teacher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign teacher rows: %w", err)
	}
	return affected > 0, nil
}

// ReplaceSessions swaps a class's session set wholesale inside the given
// transaction. Session ordering is re-derived from slice position.
func (r *ClassRepository) ReplaceSessions(ctx context.Context, tx *sqlx.Tx, classID string, sessions []models.Session) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE class_id = $1`, classID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	const query = `INSERT INTO sessions (id, class_id, idx, start_at, end_at)
		VALUES (:id, :class_id, :idx, :start_at, :end_at)`
	for i := range sessions {
		session := &sessions[i]
		if session.ID == "" {
			session.ID = uuid.NewString()
		}
		session.ClassID = classID
		session.Idx = i
		if _, err := tx.NamedExecContext(ctx, query, session); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE classes SET updated_at = $2 WHERE id = $1`, classID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch class: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a class.
func (r *ClassRepository) Deactivate(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE classes SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate class: %w", err)
	}
	return nil
}

// ListEndingBetween returns active classes whose last session ends inside
// [start, end). Camp duplication scans these for successors.
func (r *ClassRepository) ListEndingBetween(ctx context.Context, start, end time.Time) ([]models.Class, error) {
	const query = `SELECT c.id, c.course_id, c.teacher_id, c.active, c.created_at, c.updated_at
		FROM classes c
		JOIN sessions s ON s.class_id = c.id
		WHERE c.active = TRUE
		GROUP BY c.id
		HAVING MAX(s.end_at) >= $1 AND MAX(s.end_at) < $2
		ORDER BY c.id`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, start, end); err != nil {
		return nil, fmt.Errorf("list ending classes: %w", err)
	}
	refs := make([]*models.Class, len(classes))
	for i := range classes {
		refs[i] = &classes[i]
	}
	if err := r.attachSessions(ctx, refs); err != nil {
		return nil, err
	}
	return classes, nil
}

// ListAssignedStartingBetween returns active, teacher-assigned classes
// whose first session starts inside [start, end). The conflict sweep
// scans these for full classes needing a replacement.
func (r *ClassRepository) ListAssignedStartingBetween(ctx context.Context, start, end time.Time) ([]models.Class, error) {
	const query = `SELECT c.id, c.course_id, c.teacher_id, c.active, c.created_at, c.updated_at
		FROM classes c
		JOIN sessions s ON s.class_id = c.id AND s.idx = 0
		WHERE c.active = TRUE
		  AND c.teacher_id IS NOT NULL
		  AND s.start_at >= $1
		  AND s.start_at < $2
		ORDER BY s.start_at`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, start, end); err != nil {
		return nil, fmt.Errorf("list assigned classes: %w", err)
	}
	refs := make([]*models.Class, len(classes))
	for i := range classes {
		refs[i] = &classes[i]
	}
	if err := r.attachSessions(ctx, refs); err != nil {
		return nil, err
	}
	return classes, nil
}

// ListByTeacherWindow returns classes assigned to the teacher whose span
// overlaps [start, end). Used by the schedule export.
func (r *ClassRepository) ListByTeacherWindow(ctx context.Context, teacherID string, start, end time.Time) ([]models.Class, error) {
	const query = `SELECT DISTINCT c.id, c.course_id, c.teacher_id, c.active, c.created_at, c.updated_at
		FROM classes c
		JOIN sessions s ON s.class_id = c.id
		WHERE c.teacher_id = $1
		  AND c.active = TRUE
		  AND s.start_at < $3
		  AND s.end_at > $2
		ORDER BY c.id`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, teacherID, start, end); err != nil {
		return nil, fmt.Errorf("list teacher classes: %w", err)
	}
	refs := make([]*models.Class, len(classes))
	for i := range classes {
		refs[i] = &classes[i]
	}
	if err := r.attachSessions(ctx, refs); err != nil {
		return nil, err
	}
	return classes, nil
}

func (r *ClassRepository) attachSessions(ctx context.Context, classes []*models.Class) error {
	if len(classes) == 0 {
		return nil
	}
	ids := make([]string, len(classes))
	index := make(map[string]*models.Class, len(classes))
	for i, klass := range classes {
		ids[i] = klass.ID
		index[klass.ID] = classes[i]
	}
	const query = `SELECT id, class_id, idx, start_at, end_at
		FROM sessions WHERE class_id = ANY($1) ORDER BY class_id, idx`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list class sessions: %w", err)
	}
	for _, session := range sessions {
		if klass := index[session.ClassID]; klass != nil {
			klass.Sessions = append(klass.Sessions, session)
		}
	}
	return nil
}
