package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-edu/scheduler-api/internal/dto"
	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type stubClassStore struct {
	db       *sqlx.DB
	classes  map[string]*models.Class
	replaced map[string][]models.Session
}

func (s *stubClassStore) FindByID(_ context.Context, id string) (*models.Class, error) {
	if klass, ok := s.classes[id]; ok {
		copied := *klass
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubClassStore) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, opts)
}

func (s *stubClassStore) ReplaceSessions(_ context.Context, _ *sqlx.Tx, classID string, sessions []models.Session) error {
	if s.replaced == nil {
		s.replaced = make(map[string][]models.Session)
	}
	s.replaced[classID] = sessions
	return nil
}

type stubRescheduleNotifier struct {
	classIDs []string
	starts   []time.Time
}

func (s *stubRescheduleNotifier) NotifyReschedule(classID string, newStart time.Time) {
	s.classIDs = append(s.classIDs, classID)
	s.starts = append(s.starts, newStart)
}

func newSchedulingFixture(t *testing.T, classes map[string]*models.Class) (*SchedulingService, *stubClassStore, *stubRescheduleNotifier, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := &stubClassStore{db: sqlx.NewDb(db, "sqlmock"), classes: classes}
	notifier := &stubRescheduleNotifier{}
	svc := NewSchedulingService(store, nil, nil, nil, notifier, nil, timeutil.FixedClock{T: monday}, nil, nil)
	return svc, store, notifier, mock, func() { db.Close() }
}

func TestRescheduleShiftsEverySession(t *testing.T) {
	start := monday.Add(9 * time.Hour)
	klass := &models.Class{ID: "c1", CourseID: "math", Active: true}
	for i := 0; i < 4; i++ {
		s := start.AddDate(0, 0, 7*i)
		klass.Sessions = append(klass.Sessions, models.Session{ID: "s", ClassID: "c1", Idx: i, StartAt: s, EndAt: s.Add(time.Hour)})
	}

	svc, store, notifier, mock, cleanup := newSchedulingFixture(t, map[string]*models.Class{"c1": klass})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectCommit()

	newStart := start.AddDate(0, 0, 2)
	moved, err := svc.Reschedule(context.Background(), "c1", dto.RescheduleClassRequest{StartAt: newStart})
	require.NoError(t, err)

	require.Len(t, store.replaced["c1"], 4)
	assert.Equal(t, newStart, moved.StartAt())
	assert.Equal(t, newStart.AddDate(0, 0, 21).Add(time.Hour), moved.EndAt())

	require.Len(t, notifier.classIDs, 1)
	assert.Equal(t, "c1", notifier.classIDs[0])
	assert.Equal(t, newStart, notifier.starts[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleSameStartIsNoop(t *testing.T) {
	start := monday.Add(9 * time.Hour)
	klass := singleSessionClass("c1", "math", start, 30)

	svc, store, notifier, mock, cleanup := newSchedulingFixture(t, map[string]*models.Class{"c1": klass})
	defer cleanup()

	_, err := svc.Reschedule(context.Background(), "c1", dto.RescheduleClassRequest{StartAt: start})
	require.NoError(t, err)
	assert.Empty(t, store.replaced)
	assert.Empty(t, notifier.classIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleUnknownClass(t *testing.T) {
	svc, _, _, _, cleanup := newSchedulingFixture(t, nil)
	defer cleanup()

	_, err := svc.Reschedule(context.Background(), "missing", dto.RescheduleClassRequest{StartAt: monday})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRescheduleRequiresStart(t *testing.T) {
	svc, _, _, _, cleanup := newSchedulingFixture(t, nil)
	defer cleanup()

	_, err := svc.Reschedule(context.Background(), "c1", dto.RescheduleClassRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
