package service

import (
	"context"
	"database/sql"
	"math/rand"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type occupancyProvider interface {
	GetTeacherOccupancies(ctx context.Context, start, end time.Time, courseID string) ([]*Occupancy, error)
}

type tokenRepo interface {
	ConsumeToken(ctx context.Context, exec sqlx.ExtContext, teacherID, courseID string) (bool, error)
	RewardPeers(ctx context.Context, exec sqlx.ExtContext, teacherID, courseID string, maxValue int) error
}

type classAssigner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	AssignTeacher(ctx context.Context, exec sqlx.ExtContext, classID, teacherID string) (bool, error)
}

type assignmentNotifier interface {
	NotifyAssignment(teacherID, classID string)
}

// BestFitService picks teachers for classes. Trial classes run a weighted
// lottery over remaining trial tokens so new bookings spread fairly;
// everything else picks uniformly among the available.
type BestFitService struct {
	occupancies   occupancyProvider
	tokens        tokenRepo
	classes       classAssigner
	notifier      assignmentNotifier
	clock         timeutil.Clock
	intn          func(n int) int
	maxTokenValue int
	logger        *zap.Logger
}

// NewBestFitService wires the selector. notifier may be nil.
func NewBestFitService(
	occupancies occupancyProvider,
	tokens tokenRepo,
	classes classAssigner,
	notifier assignmentNotifier,
	clock timeutil.Clock,
	maxTokenValue int,
	logger *zap.Logger,
) *BestFitService {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if maxTokenValue <= 0 {
		maxTokenValue = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestFitService{
		occupancies:   occupancies,
		tokens:        tokens,
		classes:       classes,
		notifier:      notifier,
		clock:         clock,
		intn:          rand.Intn,
		maxTokenValue: maxTokenValue,
		logger:        logger,
	}
}

// tenureBoost rewards recently hired teachers so they see trial traffic
// early. Applies only on top of a positive token balance. Teachers with
// no recorded hire date get no boost.
func tenureBoost(teacher *models.Teacher, now time.Time) int {
	if teacher.HiredAt.IsZero() {
		return 0
	}
	switch tenure := teacher.TenureAt(now); {
	case tenure <= 7*24*time.Hour:
		return 9
	case tenure <= 14*24*time.Hour:
		return 6
	case tenure <= 28*24*time.Hour:
		return 3
	default:
		return 0
	}
}

// lotteryWeight is the teacher's ticket count for a trial lottery.
func (s *BestFitService) lotteryWeight(teacher *models.Teacher, courseID string, now time.Time) int {
	q := teacher.QualificationFor(courseID)
	if q == nil || q.Priority <= 0 {
		return 0
	}
	return q.Priority + tenureBoost(teacher, now)
}

// pickWeighted draws an index by cumulative weight. Zero total falls back
// to a uniform draw.
func (s *BestFitService) pickWeighted(weights []int) int {
	cumulative := make([]int, len(weights))
	total := 0
	for i, w := range weights {
		total += w
		cumulative[i] = total
	}
	if total == 0 {
		return s.intn(len(weights))
	}
	ticket := s.intn(total)
	return sort.SearchInts(cumulative, ticket+1)
}

// PickFrom selects an available teacher for the class out of a pre-loaded
// occupancy batch, or nil when nobody can take it. Teachers already
// holding one of the class's sessions are excluded.
func (s *BestFitService) PickFrom(klass *models.Class, occupancies []*Occupancy) *Occupancy {
	var candidates []*Occupancy
	for _, occ := range occupancies {
		if occ.Holds(klass.ID) {
			continue
		}
		if occ.Available(klass) {
			candidates = append(candidates, occ)
		}
	}

	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	if klass.IsTrial() {
		now := s.clock.Now()
		weights := make([]int, len(candidates))
		for i, occ := range candidates {
			weights[i] = s.lotteryWeight(occ.Teacher, klass.CourseID, now)
		}
		return candidates[s.pickWeighted(weights)]
	}

	return candidates[s.intn(len(candidates))]
}

// SuggestBestFit loads occupancies for the class window and returns a
// teacher able to take the class, or nil when nobody can.
func (s *BestFitService) SuggestBestFit(ctx context.Context, klass *models.Class) (*models.Teacher, error) {
	occupancies, err := s.occupancies.GetTeacherOccupancies(ctx, klass.StartAt(), klass.EndAt(), klass.CourseID)
	if err != nil {
		return nil, err
	}
	occ := s.PickFrom(klass, occupancies)
	if occ == nil {
		return nil, nil
	}
	return occ.Teacher, nil
}

// UseTrialToken settles the token ledger for a trial assignment. A teacher
// with tokens left pays one; a teacher at zero instead refills every
// qualified peer by one, capped at the maximum.
func (s *BestFitService) UseTrialToken(ctx context.Context, exec sqlx.ExtContext, teacherID, courseID string) error {
	consumed, err := s.tokens.ConsumeToken(ctx, exec, teacherID, courseID)
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}
	return s.tokens.RewardPeers(ctx, exec, teacherID, courseID, s.maxTokenValue)
}

// AssignTeacher binds a teacher to an unassigned class atomically. The
// conditional update makes concurrent assigners safe: the loser of the
// race gets ErrAlreadyAssigned instead of silently overwriting.
func (s *BestFitService) AssignTeacher(ctx context.Context, klass *models.Class, teacherID string) error {
	tx, err := s.classes.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	assigned, err := s.classes.AssignTeacher(ctx, tx, klass.ID, teacherID)
	if err != nil {
		return err
	}
	if !assigned {
		err = appErrors.Clone(appErrors.ErrAlreadyAssigned, "class "+klass.ID+" already has a teacher")
		return err
	}

	if klass.IsTrial() {
		if err = s.UseTrialToken(ctx, tx, teacherID, klass.CourseID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit assignment")
	}

	klass.TeacherID = &teacherID
	if s.notifier != nil {
		s.notifier.NotifyAssignment(teacherID, klass.ID)
	}
	s.logger.Info("teacher assigned",
		zap.String("class_id", klass.ID),
		zap.String("teacher_id", teacherID),
		zap.Bool("trial", klass.IsTrial()),
	)
	return nil
}
