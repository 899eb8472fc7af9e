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
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type stubOccupancyProvider struct {
	occupancies []*Occupancy
	err         error
}

func (s *stubOccupancyProvider) GetTeacherOccupancies(_ context.Context, _, _ time.Time, _ string) ([]*Occupancy, error) {
	return s.occupancies, s.err
}

type stubTokenRepo struct {
	consumed     bool
	consumeErr   error
	consumeCalls int
	rewardCalls  int
	rewardMax    int
}

func (s *stubTokenRepo) ConsumeToken(_ context.Context, _ sqlx.ExtContext, _, _ string) (bool, error) {
	s.consumeCalls++
	return s.consumed, s.consumeErr
}

func (s *stubTokenRepo) RewardPeers(_ context.Context, _ sqlx.ExtContext, _, _ string, maxValue int) error {
	s.rewardCalls++
	s.rewardMax = maxValue
	return nil
}

type stubClassAssigner struct {
	db          *sqlx.DB
	assigned    bool
	assignErr   error
	assignCalls int
	lastTeacher string
}

func (s *stubClassAssigner) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, opts)
}

func (s *stubClassAssigner) AssignTeacher(_ context.Context, _ sqlx.ExtContext, _, teacherID string) (bool, error) {
	s.assignCalls++
	s.lastTeacher = teacherID
	return s.assigned, s.assignErr
}

type recordedNotification struct {
	teacherID string
	classID   string
}

type stubNotifier struct {
	notifications []recordedNotification
}

func (s *stubNotifier) NotifyAssignment(teacherID, classID string) {
	s.notifications = append(s.notifications, recordedNotification{teacherID, classID})
}

func qualifiedAllDayTeacher(id, courseID string, tokens int, hiredAt time.Time) *models.Teacher {
	teacher := allDayTeacher(id)
	teacher.HiredAt = hiredAt
	teacher.Qualifications = []models.Qualification{{TeacherID: id, CourseID: courseID, Priority: tokens}}
	return teacher
}

func newBestFit(provider occupancyProvider, tokens tokenRepo, classes classAssigner, notifier assignmentNotifier, now time.Time) *BestFitService {
	return NewBestFitService(provider, tokens, classes, notifier, timeutil.FixedClock{T: now}, 10, nil)
}

func TestSuggestBestFitNoCandidates(t *testing.T) {
	svc := newBestFit(&stubOccupancyProvider{}, nil, nil, nil, monday)

	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	teacher, err := svc.SuggestBestFit(context.Background(), klass)
	require.NoError(t, err)
	assert.Nil(t, teacher)
}

func TestSuggestBestFitSingleCandidate(t *testing.T) {
	hired := monday.AddDate(-1, 0, 0)
	free := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)
	busySession := models.Session{ClassID: "other", StartAt: monday.Add(9 * time.Hour), EndAt: monday.Add(10 * time.Hour)}
	busy := NewOccupancy(qualifiedAllDayTeacher("t2", "math", 3, hired), []models.Session{busySession}, 10*time.Minute)

	svc := newBestFit(&stubOccupancyProvider{occupancies: []*Occupancy{busy, free}}, nil, nil, nil, monday)

	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	teacher, err := svc.SuggestBestFit(context.Background(), klass)
	require.NoError(t, err)
	require.NotNil(t, teacher)
	assert.Equal(t, "t1", teacher.ID)
}

func TestSuggestBestFitExcludesHolder(t *testing.T) {
	hired := monday.AddDate(-1, 0, 0)
	holder := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)
	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	holder.AssignClass(klass)

	svc := newBestFit(&stubOccupancyProvider{occupancies: []*Occupancy{holder}}, nil, nil, nil, monday)

	teacher, err := svc.SuggestBestFit(context.Background(), klass)
	require.NoError(t, err)
	assert.Nil(t, teacher)
}

func TestTrialLotteryFollowsTokenWeights(t *testing.T) {
	hired := monday.AddDate(-1, 0, 0)
	heavy := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 3, hired), nil, 10*time.Minute)
	light := NewOccupancy(qualifiedAllDayTeacher("t2", "math", 1, hired), nil, 10*time.Minute)

	svc := newBestFit(&stubOccupancyProvider{occupancies: []*Occupancy{heavy, light}}, nil, nil, nil, monday)
	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)

	// Cumulative weights are [3, 4]. Tickets 0-2 pick t1, ticket 3 picks t2.
	var drawn int
	svc.intn = func(n int) int {
		require.Equal(t, 4, n)
		return drawn
	}

	drawn = 2
	teacher, err := svc.SuggestBestFit(context.Background(), klass)
	require.NoError(t, err)
	assert.Equal(t, "t1", teacher.ID)

	drawn = 3
	teacher, err = svc.SuggestBestFit(context.Background(), klass)
	require.NoError(t, err)
	assert.Equal(t, "t2", teacher.ID)
}

func TestTrialLotteryUniformWhenNoTokens(t *testing.T) {
	hired := monday.AddDate(-1, 0, 0)
	first := NewOccupancy(qualifiedAllDayTeacher("t1", "math", 0, hired), nil, 10*time.Minute)
	second := NewOccupancy(qualifiedAllDayTeacher("t2", "math", 0, hired), nil, 10*time.Minute)

	svc := newBestFit(&stubOccupancyProvider{occupancies: []*Occupancy{first, second}}, nil, nil, nil, monday)
	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)

	svc.intn = func(n int) int {
		require.Equal(t, 2, n)
		return 1
	}
	teacher, err := svc.SuggestBestFit(context.Background(), klass)
	require.NoError(t, err)
	assert.Equal(t, "t2", teacher.ID)
}

func TestTenureBoost(t *testing.T) {
	now := monday
	hiredDaysAgo := func(days int) *models.Teacher {
		return &models.Teacher{HiredAt: now.AddDate(0, 0, -days)}
	}
	assert.Equal(t, 9, tenureBoost(hiredDaysAgo(5), now))
	assert.Equal(t, 6, tenureBoost(hiredDaysAgo(10), now))
	assert.Equal(t, 3, tenureBoost(hiredDaysAgo(20), now))
	assert.Equal(t, 0, tenureBoost(hiredDaysAgo(60), now))
	// An unrecorded hire date reads as long tenure, not as a fresh hire.
	assert.Equal(t, 0, tenureBoost(&models.Teacher{}, now))
}

func TestLotteryWeightRequiresBaseTokens(t *testing.T) {
	svc := newBestFit(&stubOccupancyProvider{}, nil, nil, nil, monday)

	// A brand-new hire with zero tokens still weighs zero.
	fresh := qualifiedAllDayTeacher("t1", "math", 0, monday.AddDate(0, 0, -2))
	assert.Equal(t, 0, svc.lotteryWeight(fresh, "math", monday))

	boosted := qualifiedAllDayTeacher("t2", "math", 2, monday.AddDate(0, 0, -2))
	assert.Equal(t, 11, svc.lotteryWeight(boosted, "math", monday))

	veteran := qualifiedAllDayTeacher("t3", "math", 2, monday.AddDate(-2, 0, 0))
	assert.Equal(t, 2, svc.lotteryWeight(veteran, "math", monday))
}

func TestUseTrialTokenConsumes(t *testing.T) {
	tokens := &stubTokenRepo{consumed: true}
	svc := newBestFit(&stubOccupancyProvider{}, tokens, nil, nil, monday)

	err := svc.UseTrialToken(context.Background(), nil, "t1", "math")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.consumeCalls)
	assert.Equal(t, 0, tokens.rewardCalls)
}

func TestUseTrialTokenRewardsPeersWhenExhausted(t *testing.T) {
	tokens := &stubTokenRepo{consumed: false}
	svc := newBestFit(&stubOccupancyProvider{}, tokens, nil, nil, monday)

	err := svc.UseTrialToken(context.Background(), nil, "t1", "math")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.consumeCalls)
	assert.Equal(t, 1, tokens.rewardCalls)
	assert.Equal(t, 10, tokens.rewardMax)
}

func TestAssignTeacherCommitsAndConsumesToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectCommit()

	tokens := &stubTokenRepo{consumed: true}
	classes := &stubClassAssigner{db: sqlxDB, assigned: true}
	notifier := &stubNotifier{}
	svc := newBestFit(&stubOccupancyProvider{}, tokens, classes, notifier, monday)

	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	require.NoError(t, svc.AssignTeacher(context.Background(), klass, "t1"))

	assert.Equal(t, 1, classes.assignCalls)
	assert.Equal(t, "t1", classes.lastTeacher)
	assert.Equal(t, 1, tokens.consumeCalls)
	require.NotNil(t, klass.TeacherID)
	assert.Equal(t, "t1", *klass.TeacherID)
	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, recordedNotification{"t1", "c1"}, notifier.notifications[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignTeacherSkipsTokensForRegularClass(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectCommit()

	tokens := &stubTokenRepo{consumed: true}
	classes := &stubClassAssigner{db: sqlxDB, assigned: true}
	svc := newBestFit(&stubOccupancyProvider{}, tokens, classes, nil, monday)

	klass := &models.Class{ID: "c1", CourseID: "math", Active: true}
	start := monday.Add(9 * time.Hour)
	for i := 0; i < 4; i++ {
		s := start.AddDate(0, 0, 7*i)
		klass.Sessions = append(klass.Sessions, models.Session{ClassID: "c1", Idx: i, StartAt: s, EndAt: s.Add(time.Hour)})
	}

	require.NoError(t, svc.AssignTeacher(context.Background(), klass, "t1"))
	assert.Equal(t, 0, tokens.consumeCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignTeacherLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectRollback()

	tokens := &stubTokenRepo{consumed: true}
	classes := &stubClassAssigner{db: sqlxDB, assigned: false}
	notifier := &stubNotifier{}
	svc := newBestFit(&stubOccupancyProvider{}, tokens, classes, notifier, monday)

	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	err = svc.AssignTeacher(context.Background(), klass, "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyAssigned.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, tokens.consumeCalls)
	assert.Nil(t, klass.TeacherID)
	assert.Empty(t, notifier.notifications)
	assert.NoError(t, mock.ExpectationsWereMet())
}
