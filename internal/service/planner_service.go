package service

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type ruleLister interface {
	ListAll(ctx context.Context) (map[string][]models.ScheduleOption, error)
	ListShifts(ctx context.Context) ([]models.Shift, error)
}

type plannerClassRepo interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	ExistsByCourseAndStart(ctx context.Context, courseID string, startAt time.Time) (bool, error)
	BulkCreate(ctx context.Context, tx *sqlx.Tx, classes []*models.Class) error
}

// PlannerService turns recurrence rules into persisted, teacher-assigned
// classes at the configured horizons. Runs nightly and on demand.
type PlannerService struct {
	horizons    []int
	location    *time.Location
	rules       ruleLister
	classes     plannerClassRepo
	generator   *GeneratorService
	selector    *BestFitService
	occupancies occupancyProvider
	metrics     *MetricsService
	clock       timeutil.Clock
	logger      *zap.Logger
}

// NewPlannerService wires the planner. metrics may be nil.
func NewPlannerService(
	horizons []int,
	location *time.Location,
	rules ruleLister,
	classes plannerClassRepo,
	generator *GeneratorService,
	selector *BestFitService,
	occupancies occupancyProvider,
	metrics *MetricsService,
	clock timeutil.Clock,
	logger *zap.Logger,
) *PlannerService {
	if len(horizons) == 0 {
		horizons = []int{2, 3, 7, 21}
	}
	if location == nil {
		location = time.UTC
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlannerService{
		horizons:    horizons,
		location:    location,
		rules:       rules,
		classes:     classes,
		generator:   generator,
		selector:    selector,
		occupancies: occupancies,
		metrics:     metrics,
		clock:       clock,
		logger:      logger,
	}
}

// ScheduleClasses generates candidate classes for every horizon, assigns a
// teacher to each, and persists the keepers in one transaction. Candidates
// without an available teacher or with an existing duplicate are dropped.
// Returns the number of classes created.
func (s *PlannerService) ScheduleClasses(ctx context.Context) (int, error) {
	started := s.clock.Now()

	rules, err := s.rules.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	var candidates []*models.Class
	for _, horizon := range s.horizons {
		date := started.In(s.location).AddDate(0, 0, horizon)
		generated, err := s.generator.Preschedules(ctx, date, rules)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, generated...)
	}

	duplicated, err := s.generator.DuplicatePastCamps(ctx, started)
	if err != nil {
		return 0, err
	}
	candidates = append(candidates, duplicated...)

	kept, err := s.assignCandidates(ctx, candidates)
	if err != nil {
		return 0, err
	}
	if len(kept) == 0 {
		s.metrics.ObservePlannerRun(s.clock.Now().Sub(started), 0)
		s.logger.Info("planner run produced no classes")
		return 0, nil
	}

	tx, err := s.classes.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err := s.classes.BulkCreate(ctx, tx, kept); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit planner batch")
	}

	s.metrics.ObservePlannerRun(s.clock.Now().Sub(started), len(kept))
	s.logger.Info("planner run complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("created", len(kept)),
	)
	return len(kept), nil
}

// assignCandidates deduplicates against existing classes and picks a
// teacher for each survivor. Occupancies load once per course over the
// full candidate span; local AssignClass calls keep later candidates in
// the same batch from double-booking a teacher.
func (s *PlannerService) assignCandidates(ctx context.Context, candidates []*models.Class) ([]*models.Class, error) {
	byCourse := make(map[string][]*models.Class)
	for _, klass := range candidates {
		byCourse[klass.CourseID] = append(byCourse[klass.CourseID], klass)
	}

	var kept []*models.Class
	for courseID, group := range byCourse {
		span := groupSpan(group)
		occupancies, err := s.occupancies.GetTeacherOccupancies(ctx, span.Start, span.End, courseID)
		if err != nil {
			return nil, err
		}

		for _, klass := range group {
			exists, err := s.classes.ExistsByCourseAndStart(ctx, courseID, klass.StartAt())
			if err != nil {
				return nil, err
			}
			if exists {
				s.metrics.RecordPlannerSkip("exists")
				continue
			}

			occ := s.selector.PickFrom(klass, occupancies)
			if occ == nil {
				s.metrics.RecordPlannerSkip("no_teacher")
				s.logger.Warn("no teacher available for candidate",
					zap.String("course_id", courseID),
					zap.Time("start_at", klass.StartAt()),
				)
				continue
			}

			teacherID := occ.Teacher.ID
			klass.TeacherID = &teacherID
			occ.AssignClass(klass)
			kept = append(kept, klass)
		}
	}
	return kept, nil
}

func groupSpan(group []*models.Class) timeutil.Interval {
	span := timeutil.Interval{Start: group[0].StartAt(), End: group[0].EndAt()}
	for _, klass := range group[1:] {
		if klass.StartAt().Before(span.Start) {
			span.Start = klass.StartAt()
		}
		if klass.EndAt().After(span.End) {
			span.End = klass.EndAt()
		}
	}
	return span
}

// ProposeSchedules walks the shift table over the coming days and returns
// candidate classes for the course at every non-holiday slot. Proposals
// do not check teacher availability; they are raw bookable slots.
func (s *PlannerService) ProposeSchedules(ctx context.Context, courseID string, from time.Time, days int) ([]*models.Class, error) {
	course, err := s.generator.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	shifts, err := s.rules.ListShifts(ctx)
	if err != nil {
		return nil, err
	}
	holidays, err := s.generator.holidays.Set(ctx)
	if err != nil {
		return nil, err
	}

	local := from.In(s.location)
	var proposals []*models.Class
	for day := 0; day < days; day++ {
		date := local.AddDate(0, 0, day)
		if holidays.Contains(date) {
			continue
		}
		for _, shift := range shifts {
			ts := time.Date(date.Year(), date.Month(), date.Day(), shift.Hour, shift.Minute, 0, 0, s.location)
			if ts.Before(from) {
				continue
			}
			proposals = append(proposals, s.generator.BuildClass(ts, course, nil, holidays))
		}
	}
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].StartAt().Before(proposals[j].StartAt())
	})
	return proposals, nil
}
