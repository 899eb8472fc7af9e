package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-edu/scheduler-api/internal/models"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type stubConflictClassRepo struct {
	db          *sqlx.DB
	overlapping []models.Class
	openTrials  []models.Class
	assigned    []models.Class
	created     []*models.Class
	deactivated []string
}

func (s *stubConflictClassRepo) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, opts)
}

func (s *stubConflictClassRepo) ListUnassignedOverlapping(_ context.Context, _, _ time.Time, _ string) ([]models.Class, error) {
	return s.overlapping, nil
}

func (s *stubConflictClassRepo) ListOpenTrialsOnDay(_ context.Context, _ string, _, _ time.Time) ([]models.Class, error) {
	return s.openTrials, nil
}

func (s *stubConflictClassRepo) ListAssignedStartingBetween(_ context.Context, _, _ time.Time) ([]models.Class, error) {
	return s.assigned, nil
}

func (s *stubConflictClassRepo) BulkCreate(_ context.Context, _ *sqlx.Tx, classes []*models.Class) error {
	s.created = append(s.created, classes...)
	return nil
}

func (s *stubConflictClassRepo) Deactivate(_ context.Context, _ sqlx.ExtContext, id string) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

type stubRegistrationReader struct {
	counts    map[string]int
	firstRegs map[string]time.Time
}

func (s *stubRegistrationReader) CountActiveByClass(_ context.Context, classID string) (int, error) {
	return s.counts[classID], nil
}

func (s *stubRegistrationReader) FirstRegistrationAt(_ context.Context, classID string) (time.Time, error) {
	return s.firstRegs[classID], nil
}

type conflictFixture struct {
	svc     *ConflictService
	classes *stubConflictClassRepo
	mock    sqlmock.Sqlmock
	close   func()
}

func newConflictFixture(t *testing.T, course *models.Course, occupancies []*Occupancy, regs *stubRegistrationReader, now time.Time) conflictFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	catalog := &stubCatalog{courses: map[string]*models.Course{course.ID: course}}
	generator := NewGeneratorService(
		GeneratorConfig{Location: time.UTC, Epoch: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)},
		&stubHolidayProvider{set: NewHolidaySet(nil, time.UTC)},
		catalog,
		&stubCampLister{},
		&stubRegCounter{},
		nil,
	)

	provider := &stubOccupancyProvider{occupancies: occupancies}
	classes := &stubConflictClassRepo{db: sqlxDB}
	selector := NewBestFitService(
		provider,
		&stubTokenRepo{consumed: true},
		&stubClassAssigner{db: sqlxDB, assigned: true},
		nil,
		timeutil.FixedClock{T: now},
		10,
		nil,
	)

	svc := NewConflictService(
		BackfillOptions{MinTrialSlack: 2, RegularLookaheadDays: 5, BusinessDayStartHour: 9, BusinessDayEndHour: 21},
		time.UTC,
		10*time.Minute,
		classes,
		regs,
		&stubRuleLister{shifts: []models.Shift{{Hour: 9}, {Hour: 14}, {Hour: 18}}},
		generator,
		selector,
		nil,
		timeutil.FixedClock{T: now},
		nil,
	)
	return conflictFixture{svc: svc, classes: classes, mock: mock, close: func() { db.Close() }}
}

func trialCourse(id string) *models.Course {
	return &models.Course{ID: id, Name: id, DurationMinutes: 30, Trial: true, Official: true, Level: 1}
}

func TestBustConflictsReassignsDisplacedClass(t *testing.T) {
	hired := monday.AddDate(-1, 0, 0)
	occ := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)

	displaced := *singleSessionClass("c2", "math", monday.Add(9*time.Hour), 30)
	f := newConflictFixture(t, trialCourse("math"), []*Occupancy{occ}, &stubRegistrationReader{}, monday.Add(8*time.Hour))
	defer f.close()
	f.classes.overlapping = []models.Class{displaced}

	// One transaction for the reassignment.
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	assigned := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 30)
	require.NoError(t, f.svc.BustConflicts(context.Background(), assigned))

	assert.Empty(t, f.classes.deactivated)
	assert.Empty(t, f.classes.created)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBustConflictsRetiresUnfillableEmptyClass(t *testing.T) {
	displaced := *singleSessionClass("c2", "math", monday.Add(9*time.Hour), 30)
	f := newConflictFixture(t, trialCourse("math"), nil, &stubRegistrationReader{}, monday.Add(8*time.Hour))
	defer f.close()
	f.classes.overlapping = []models.Class{displaced}

	// No teacher anywhere, so the backfill finds no slot either; only the
	// deactivation transaction runs.
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	assigned := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 30)
	require.NoError(t, f.svc.BustConflicts(context.Background(), assigned))

	assert.Equal(t, []string{"c2"}, f.classes.deactivated)
	assert.Empty(t, f.classes.created)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBustConflictsNeverDeactivatesRegisteredClass(t *testing.T) {
	displaced := *singleSessionClass("c2", "math", monday.Add(9*time.Hour), 30)
	regs := &stubRegistrationReader{counts: map[string]int{"c2": 3}}
	f := newConflictFixture(t, trialCourse("math"), nil, regs, monday.Add(8*time.Hour))
	defer f.close()
	f.classes.overlapping = []models.Class{displaced}

	assigned := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 30)
	require.NoError(t, f.svc.BustConflicts(context.Background(), assigned))

	assert.Empty(t, f.classes.deactivated)
	assert.Empty(t, f.classes.created)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateBackupTrialSkipsWhenSlackRemains(t *testing.T) {
	f := newConflictFixture(t, trialCourse("math"), nil, &stubRegistrationReader{}, monday.Add(8*time.Hour))
	defer f.close()
	f.classes.openTrials = []models.Class{
		*singleSessionClass("o1", "math", monday.Add(14*time.Hour), 30),
		*singleSessionClass("o2", "math", monday.Add(18*time.Hour), 30),
	}

	retired := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 30)
	replacement, err := f.svc.CreateBackupClass(context.Background(), retired)
	require.NoError(t, err)
	assert.Nil(t, replacement)
}

func TestCreateBackupTrialPicksRemainingShift(t *testing.T) {
	hired := monday.AddDate(-1, 0, 0)
	occ := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)

	// Run at noon: the 09:00 shift is gone, 14:00 and 18:00 remain, and
	// 14:00 is already covered by an open trial.
	f := newConflictFixture(t, trialCourse("math"), []*Occupancy{occ}, &stubRegistrationReader{}, monday.Add(12*time.Hour))
	defer f.close()
	f.classes.openTrials = []models.Class{
		*singleSessionClass("o1", "math", monday.Add(14*time.Hour), 30),
	}

	retired := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 30)
	replacement, err := f.svc.CreateBackupClass(context.Background(), retired)
	require.NoError(t, err)
	require.NotNil(t, replacement)
	assert.Equal(t, monday.Add(18*time.Hour), replacement.StartAt())
	require.NotNil(t, replacement.TeacherID)
	assert.Equal(t, "t1", *replacement.TeacherID)
}

func TestCreateBackupRegularMovesForwardAtSameTime(t *testing.T) {
	course := &models.Course{ID: "math", Name: "math", DurationMinutes: 60, Regular: true, Official: true, Level: 1, Recurring: true}
	hired := monday.AddDate(-1, 0, 0)
	occ := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)

	f := newConflictFixture(t, course, []*Occupancy{occ}, &stubRegistrationReader{}, monday.Add(8*time.Hour))
	defer f.close()

	retired := &models.Class{ID: "c1", CourseID: "math", Active: true, CreatedAt: monday.AddDate(0, 0, -10)}
	start := monday.Add(15 * time.Hour)
	for i := 0; i < 4; i++ {
		s := start.AddDate(0, 0, 7*i)
		retired.Sessions = append(retired.Sessions, models.Session{ClassID: "c1", Idx: i, StartAt: s, EndAt: s.Add(time.Hour)})
	}

	replacement, err := f.svc.CreateBackupClass(context.Background(), retired)
	require.NoError(t, err)
	require.NotNil(t, replacement)
	// No registration history, so the earliest lookahead day wins.
	assert.Equal(t, monday.AddDate(0, 0, 1).Add(15*time.Hour), replacement.StartAt())
	assert.Len(t, replacement.Sessions, 4)
}

func TestCreateBackupRegularUsesFillTimeEstimate(t *testing.T) {
	course := &models.Course{ID: "math", Name: "math", DurationMinutes: 60, Regular: true, Official: true, Level: 1, Recurring: true}
	hired := monday.AddDate(-1, 0, 0)
	occ := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)

	created := monday.AddDate(0, 0, -10)
	regs := &stubRegistrationReader{
		firstRegs: map[string]time.Time{"c1": created.AddDate(0, 0, 2)},
	}
	f := newConflictFixture(t, course, []*Occupancy{occ}, regs, monday.Add(8*time.Hour))
	defer f.close()

	retired := &models.Class{ID: "c1", CourseID: "math", Active: true, CreatedAt: created}
	start := monday.Add(15 * time.Hour)
	for i := 0; i < 4; i++ {
		s := start.AddDate(0, 0, 7*i)
		retired.Sessions = append(retired.Sessions, models.Session{ClassID: "c1", Idx: i, StartAt: s, EndAt: s.Add(time.Hour)})
	}

	replacement, err := f.svc.CreateBackupClass(context.Background(), retired)
	require.NoError(t, err)
	require.NotNil(t, replacement)
	// The original took three days to draw its first registration.
	assert.Equal(t, monday.AddDate(0, 0, 3).Add(15*time.Hour), replacement.StartAt())
}

func TestSweepFullClassesBackfillsAtCapacity(t *testing.T) {
	course := trialCourse("math")
	course.Capacity = 1
	hired := monday.AddDate(-1, 0, 0)
	occ := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)

	regs := &stubRegistrationReader{counts: map[string]int{"full1": 1}}
	f := newConflictFixture(t, course, []*Occupancy{occ}, regs, monday.Add(12*time.Hour))
	defer f.close()

	full := *singleSessionClass("full1", "math", monday.Add(14*time.Hour), 30)
	teacherID := "t1"
	full.TeacherID = &teacherID
	f.classes.assigned = []models.Class{full}
	// 14:00 stays covered by the open slot list, so the replacement lands
	// on the 18:00 shift.
	f.classes.openTrials = []models.Class{
		*singleSessionClass("o1", "math", monday.Add(14*time.Hour), 30),
	}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	created, err := f.svc.SweepFullClasses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, f.classes.created, 1)
	assert.Equal(t, monday.Add(18*time.Hour), f.classes.created[0].StartAt())
	assert.Empty(t, f.classes.deactivated)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSweepFullClassesIgnoresClassesBelowCapacity(t *testing.T) {
	course := trialCourse("math")
	course.Capacity = 6
	regs := &stubRegistrationReader{counts: map[string]int{"full1": 2}}
	f := newConflictFixture(t, course, nil, regs, monday.Add(12*time.Hour))
	defer f.close()

	full := *singleSessionClass("full1", "math", monday.Add(14*time.Hour), 30)
	teacherID := "t1"
	full.TeacherID = &teacherID
	f.classes.assigned = []models.Class{full}

	created, err := f.svc.SweepFullClasses(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, f.classes.created)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
