package service

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type conflictClassRepo interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	ListUnassignedOverlapping(ctx context.Context, start, end time.Time, excludeClassID string) ([]models.Class, error)
	ListOpenTrialsOnDay(ctx context.Context, courseID string, dayStart, dayEnd time.Time) ([]models.Class, error)
	ListAssignedStartingBetween(ctx context.Context, start, end time.Time) ([]models.Class, error)
	BulkCreate(ctx context.Context, tx *sqlx.Tx, classes []*models.Class) error
	Deactivate(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type registrationReader interface {
	CountActiveByClass(ctx context.Context, classID string) (int, error)
	FirstRegistrationAt(ctx context.Context, classID string) (time.Time, error)
}

// BackfillOptions bound where replacement classes may land.
type BackfillOptions struct {
	// MinTrialSlack is the number of same-day open trial slots below which
	// a replacement trial class is created.
	MinTrialSlack int
	// RegularLookaheadDays caps how far out a replacement regular class
	// may be pushed.
	RegularLookaheadDays int
	// SweepHorizonDays is how far ahead the periodic sweep looks for full
	// classes.
	SweepHorizonDays     int
	BusinessDayStartHour int
	BusinessDayEndHour   int
}

// ConflictService repairs the schedule after an assignment locks a teacher
// in: overlapping unassigned classes get a new teacher, and the ones
// nobody can take are retired and backfilled at a better slot.
type ConflictService struct {
	opts      BackfillOptions
	location  *time.Location
	buffer    time.Duration
	classes   conflictClassRepo
	regs      registrationReader
	rules     ruleLister
	generator *GeneratorService
	selector  *BestFitService
	metrics   *MetricsService
	clock     timeutil.Clock
	intn      func(n int) int
	logger    *zap.Logger
}

// NewConflictService wires the conflict buster. metrics may be nil.
func NewConflictService(
	opts BackfillOptions,
	location *time.Location,
	buffer time.Duration,
	classes conflictClassRepo,
	regs registrationReader,
	rules ruleLister,
	generator *GeneratorService,
	selector *BestFitService,
	metrics *MetricsService,
	clock timeutil.Clock,
	logger *zap.Logger,
) *ConflictService {
	if opts.MinTrialSlack <= 0 {
		opts.MinTrialSlack = 2
	}
	if opts.RegularLookaheadDays <= 0 {
		opts.RegularLookaheadDays = 5
	}
	if opts.SweepHorizonDays <= 0 {
		opts.SweepHorizonDays = 7
	}
	if opts.BusinessDayStartHour == 0 {
		opts.BusinessDayStartHour = 9
	}
	if opts.BusinessDayEndHour == 0 {
		opts.BusinessDayEndHour = 21
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
	return &ConflictService{
		opts:      opts,
		location:  location,
		buffer:    buffer,
		classes:   classes,
		regs:      regs,
		rules:     rules,
		generator: generator,
		selector:  selector,
		metrics:   metrics,
		clock:     clock,
		intn:      rand.Intn,
		logger:    logger,
	}
}

// BustConflicts rechecks every unassigned class overlapping the freshly
// assigned one. Each gets a new suggestion first; a class nobody can take
// is deactivated and backfilled only while it has no registrations, since
// moving a registered class silently would strand students.
func (s *ConflictService) BustConflicts(ctx context.Context, assigned *models.Class) error {
	start := assigned.StartAt().Add(-s.buffer)
	end := assigned.EndAt().Add(s.buffer)

	conflicting, err := s.classes.ListUnassignedOverlapping(ctx, start, end, assigned.ID)
	if err != nil {
		return err
	}

	for i := range conflicting {
		klass := &conflicting[i]

		teacher, err := s.selector.SuggestBestFit(ctx, klass)
		if err != nil {
			return err
		}
		if teacher != nil {
			if err := s.selector.AssignTeacher(ctx, klass, teacher.ID); err != nil {
				// Losing the assignment race means someone else fixed the
				// conflict for us.
				if appErrors.FromError(err).Code == appErrors.ErrAlreadyAssigned.Code {
					continue
				}
				return err
			}
			continue
		}

		count, err := s.regs.CountActiveByClass(ctx, klass.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			s.logger.Warn("registered class left without a teacher",
				zap.String("class_id", klass.ID),
				zap.Int("registrations", count),
			)
			continue
		}

		if err := s.retireAndBackfill(ctx, klass); err != nil {
			return err
		}
	}
	return nil
}

// SweepFullClasses proactively persists replacement classes for every
// active, assigned class inside the sweep horizon whose registrations
// have reached course capacity. The full class keeps running; the
// replacement absorbs further demand. Returns the number created.
func (s *ConflictService) SweepFullClasses(ctx context.Context) (int, error) {
	now := s.clock.Now()
	classes, err := s.classes.ListAssignedStartingBetween(ctx, now, now.AddDate(0, 0, s.opts.SweepHorizonDays))
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range classes {
		klass := &classes[i]

		course, err := s.generator.catalog.GetCourse(ctx, klass.CourseID)
		if err != nil {
			return created, err
		}
		if course == nil || course.Capacity <= 0 {
			continue
		}
		count, err := s.regs.CountActiveByClass(ctx, klass.ID)
		if err != nil {
			return created, err
		}
		if count < course.Capacity {
			continue
		}

		replacement, err := s.CreateBackupClass(ctx, klass)
		if err != nil {
			return created, err
		}
		if replacement == nil {
			continue
		}

		tx, err := s.classes.BeginTxx(ctx, nil)
		if err != nil {
			return created, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
		}
		if err := s.classes.BulkCreate(ctx, tx, []*models.Class{replacement}); err != nil {
			_ = tx.Rollback()
			return created, err
		}
		if err := tx.Commit(); err != nil {
			return created, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit sweep backfill")
		}

		kind := "regular"
		if replacement.IsTrial() {
			kind = "trial"
		}
		s.metrics.RecordBackfill(kind)
		s.logger.Info("full class backfilled",
			zap.String("full_class_id", klass.ID),
			zap.String("course_id", klass.CourseID),
			zap.Time("replacement_start", replacement.StartAt()),
		)
		created++
	}
	return created, nil
}

// retireAndBackfill deactivates the class and persists its replacement,
// when one can be placed, in a single transaction.
func (s *ConflictService) retireAndBackfill(ctx context.Context, klass *models.Class) error {
	replacement, err := s.CreateBackupClass(ctx, klass)
	if err != nil {
		return err
	}

	tx, err := s.classes.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err := s.classes.Deactivate(ctx, tx, klass.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if replacement != nil {
		if err := s.classes.BulkCreate(ctx, tx, []*models.Class{replacement}); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit backfill")
	}

	if replacement != nil {
		kind := "regular"
		if replacement.IsTrial() {
			kind = "trial"
		}
		s.metrics.RecordBackfill(kind)
		s.logger.Info("class backfilled",
			zap.String("retired_class_id", klass.ID),
			zap.String("course_id", klass.CourseID),
			zap.Time("replacement_start", replacement.StartAt()),
		)
	} else {
		s.logger.Info("class retired without replacement", zap.String("class_id", klass.ID))
	}
	return nil
}

// CreateBackupClass builds an unpersisted replacement for a retired class.
// Trials get another same-day slot while enough of the business day
// remains; official level-1 regulars move forward by their estimated
// fill time. Returns nil when no acceptable slot exists.
func (s *ConflictService) CreateBackupClass(ctx context.Context, klass *models.Class) (*models.Class, error) {
	course, err := s.generator.catalog.GetCourse(ctx, klass.CourseID)
	if err != nil {
		return nil, err
	}
	holidays, err := s.generator.holidays.Set(ctx)
	if err != nil {
		return nil, err
	}

	if klass.IsTrial() {
		return s.backupTrial(ctx, klass, course, holidays)
	}
	if course.Official && course.Level == 1 {
		return s.backupRegular(ctx, klass, course, holidays)
	}
	return nil, nil
}

// backupTrial looks for another same-day trial slot. When enough open
// trials for the course already exist that day the backfill is skipped;
// otherwise the remaining shifts are tried in randomized order until one
// has an available teacher.
func (s *ConflictService) backupTrial(ctx context.Context, klass *models.Class, course *models.Course, holidays HolidaySet) (*models.Class, error) {
	cutoff := s.businessCutoff(holidays)

	dayStart := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), s.opts.BusinessDayStartHour, 0, 0, 0, s.location)
	dayEnd := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), s.opts.BusinessDayEndHour, 0, 0, 0, s.location)

	open, err := s.classes.ListOpenTrialsOnDay(ctx, course.ID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	if len(open) >= s.opts.MinTrialSlack {
		s.logger.Info("enough open trial slots remain, skipping backfill",
			zap.String("course_id", course.ID),
			zap.Int("open", len(open)),
		)
		return nil, nil
	}
	covered := make(map[time.Time]bool, len(open))
	for i := range open {
		covered[open[i].StartAt().In(s.location)] = true
	}

	shifts, err := s.rules.ListShifts(ctx)
	if err != nil {
		return nil, err
	}
	var slots []time.Time
	for _, shift := range shifts {
		ts := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), shift.Hour, shift.Minute, 0, 0, s.location)
		if ts.Before(cutoff) || !ts.Before(dayEnd) || covered[ts] {
			continue
		}
		slots = append(slots, ts)
	}
	s.shuffle(slots)

	for _, slot := range slots {
		candidate := s.generator.BuildClass(slot, course, nil, holidays)
		teacher, err := s.selector.SuggestBestFit(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if teacher == nil {
			continue
		}
		teacherID := teacher.ID
		candidate.TeacherID = &teacherID
		return candidate, nil
	}
	return nil, nil
}

// businessCutoff is the earliest moment a replacement slot may start:
// now, clamped into the current business window, or pushed to the next
// business day's opening when the day is already over.
func (s *ConflictService) businessCutoff(holidays HolidaySet) time.Time {
	now := s.clock.Now().In(s.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), s.opts.BusinessDayStartHour, 0, 0, 0, s.location)
	dayEnd := time.Date(now.Year(), now.Month(), now.Day(), s.opts.BusinessDayEndHour, 0, 0, 0, s.location)

	cutoff := now
	if now.Before(dayStart) {
		cutoff = dayStart
	}
	for !cutoff.Before(dayEnd) || holidays.Contains(cutoff) {
		next := cutoff.AddDate(0, 0, 1)
		cutoff = time.Date(next.Year(), next.Month(), next.Day(), s.opts.BusinessDayStartHour, 0, 0, 0, s.location)
		dayEnd = time.Date(next.Year(), next.Month(), next.Day(), s.opts.BusinessDayEndHour, 0, 0, 0, s.location)
	}
	return cutoff
}

func (s *ConflictService) shuffle(slots []time.Time) {
	for i := len(slots) - 1; i > 0; i-- {
		j := s.intn(i + 1)
		slots[i], slots[j] = slots[j], slots[i]
	}
}

// backupRegular pushes the class forward at the same local time of day.
// The first day tried comes from how quickly the retired class drew its
// first registration; later days are tried in order until a teacher is
// available or the lookahead is exhausted.
func (s *ConflictService) backupRegular(ctx context.Context, klass *models.Class, course *models.Course, holidays HolidaySet) (*models.Class, error) {
	firstOffset := 1
	firstReg, err := s.regs.FirstRegistrationAt(ctx, klass.ID)
	if err != nil {
		return nil, err
	}
	if !firstReg.IsZero() && !klass.CreatedAt.IsZero() {
		firstOffset = int(firstReg.Sub(klass.CreatedAt).Hours()/24) + 1
		if firstOffset < 1 {
			firstOffset = 1
		}
		if firstOffset > s.opts.RegularLookaheadDays {
			firstOffset = s.opts.RegularLookaheadDays
		}
	}

	now := s.clock.Now().In(s.location)
	original := klass.StartAt().In(s.location)
	base := time.Date(now.Year(), now.Month(), now.Day(), original.Hour(), original.Minute(), 0, 0, s.location)

	for offset := firstOffset; offset <= s.opts.RegularLookaheadDays; offset++ {
		start := base.AddDate(0, 0, offset)
		if holidays.Contains(start) {
			continue
		}
		candidate := s.generator.BuildClass(start, course, nil, holidays)
		teacher, err := s.selector.SuggestBestFit(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if teacher == nil {
			continue
		}
		teacherID := teacher.ID
		candidate.TeacherID = &teacherID
		return candidate, nil
	}
	return nil, nil
}
