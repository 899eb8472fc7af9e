package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

// campPatterns maps a start weekday (0=Sunday) to the day-offset sequences
// a 4-session camp may follow. A weekday can admit more than one pattern;
// offsets keep camps on a twice-a-week school-break rhythm.
var campPatterns = map[int][][]int{
	1: {{0, 3, 7, 10}},             // Mon/Thu
	2: {{0, 3, 7, 10}},             // Tue/Fri
	3: {{0, 2, 7, 9}, {0, 5, 7, 12}}, // Wed/Fri or Wed/Mon
	4: {{0, 4, 7, 11}},             // Thu/Mon
	5: {{0, 4, 7, 11}},             // Fri/Tue
}

type holidaySetProvider interface {
	Set(ctx context.Context) (HolidaySet, error)
}

type campClassLister interface {
	ListEndingBetween(ctx context.Context, start, end time.Time) ([]models.Class, error)
}

type registrationCounter interface {
	CountActiveByClasses(ctx context.Context, classIDs []string) (map[string]int, error)
}

type catalogReader interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
}

// GeneratorConfig anchors recurrence math.
type GeneratorConfig struct {
	// Location is the business timezone every recurrence rule is evaluated
	// in. Teacher-local zones are display-only; using them here would let
	// DST drift the weekly cadence.
	Location *time.Location
	// Epoch anchors the week-interval formula.
	Epoch time.Time
}

// GeneratorService produces candidate class definitions from recurrence
// rules, camp patterns and the holiday calendar. Pure except for catalog
// and holiday reads.
type GeneratorService struct {
	cfg      GeneratorConfig
	holidays holidaySetProvider
	catalog  catalogReader
	classes  campClassLister
	regs     registrationCounter
	logger   *zap.Logger
}

// NewGeneratorService wires the generator.
func NewGeneratorService(
	cfg GeneratorConfig,
	holidays holidaySetProvider,
	catalog catalogReader,
	classes campClassLister,
	regs registrationCounter,
	logger *zap.Logger,
) *GeneratorService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = time.Date(2018, 1, 1, 0, 0, 0, 0, cfg.Location)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneratorService{
		cfg:      cfg,
		holidays: holidays,
		catalog:  catalog,
		classes:  classes,
		regs:     regs,
		logger:   logger,
	}
}

// IsRightWeek reports whether the rule fires on the given date: the
// weekday matches and the whole weeks since the epoch land on the rule's
// offset within its interval. Evaluated in the business timezone.
func (s *GeneratorService) IsRightWeek(rule models.ScheduleOption, date time.Time) bool {
	if timeutil.LocalWeekday(date, s.cfg.Location) != rule.Weekday {
		return false
	}
	interval := rule.IntervalWeeks
	if interval <= 1 {
		return true
	}
	offset := rule.Offset
	if offset < 0 {
		offset = 0
	}
	weeks := timeutil.WeeksBetween(s.cfg.Epoch, date, s.cfg.Location)
	return ((weeks%interval)+interval)%interval == offset%interval
}

// NextWeek returns the date one week later, then keeps stepping whole
// weeks while the result lands on a holiday. Shifting by full weeks keeps
// the weekday of the entire remaining sequence intact.
func (s *GeneratorService) NextWeek(date time.Time, holidays HolidaySet) time.Time {
	next := date.AddDate(0, 0, 7)
	for holidays.Contains(next) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// BuildClass constructs an unpersisted candidate class starting at the
// timestamp. Non-recurring courses get one session; recurring courses get
// four weekly sessions spaced by NextWeek. campPattern, when non-nil,
// overrides the weekly spacing with explicit day offsets.
func (s *GeneratorService) BuildClass(ts time.Time, course *models.Course, campPattern []int, holidays HolidaySet) *models.Class {
	// Candidates get their identity up front: occupancy folding keys held
	// blocks by class ID, so unpersisted candidates sharing an empty ID
	// would shadow each other during batch assignment.
	klass := &models.Class{ID: uuid.NewString(), CourseID: course.ID, Active: true}

	if !course.Recurring {
		klass.Sessions = []models.Session{{Idx: 0, StartAt: ts, EndAt: ts.Add(course.Duration())}}
		return klass
	}

	if campPattern != nil {
		for i, offset := range campPattern {
			start := ts.AddDate(0, 0, offset)
			klass.Sessions = append(klass.Sessions, models.Session{
				Idx:     i,
				StartAt: start,
				EndAt:   start.Add(course.Duration()),
			})
		}
		return klass
	}

	start := ts
	for i := 0; i < models.WeeklySessionCount; i++ {
		klass.Sessions = append(klass.Sessions, models.Session{
			Idx:     i,
			StartAt: start,
			EndAt:   start.Add(course.Duration()),
		})
		start = s.NextWeek(start, holidays)
	}
	return klass
}

// BuildCamps returns one candidate camp class per pattern admissible for
// the timestamp's weekday. Weekends admit none.
func (s *GeneratorService) BuildCamps(ts time.Time, course *models.Course, holidays HolidaySet) []*models.Class {
	weekday := timeutil.LocalWeekday(ts, s.cfg.Location)
	patterns := campPatterns[weekday]
	classes := make([]*models.Class, 0, len(patterns))
	for _, pattern := range patterns {
		classes = append(classes, s.BuildClass(ts, course, pattern, holidays))
	}
	return classes
}

// Preschedules builds one candidate class per recurrence rule matching the
// date. A holiday date short-circuits to no candidates.
func (s *GeneratorService) Preschedules(ctx context.Context, date time.Time, rules map[string][]models.ScheduleOption) ([]*models.Class, error) {
	holidays, err := s.holidays.Set(ctx)
	if err != nil {
		return nil, err
	}
	if holidays.Contains(date) {
		s.logger.Info("skipping preschedules on holiday", zap.Time("date", date))
		return nil, nil
	}

	var result []*models.Class
	for courseID, courseRules := range rules {
		course, err := s.catalog.GetCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		for _, rule := range courseRules {
			if !s.IsRightWeek(rule, date) {
				continue
			}
			local := date.In(s.cfg.Location)
			ts := time.Date(local.Year(), local.Month(), local.Day(), rule.Hour, rule.Minute, 0, 0, s.cfg.Location)
			result = append(result, s.BuildClass(ts, course, nil, holidays))
		}
	}
	return result, nil
}

// DuplicatePastCamps finds near-full official level-1 camps ending within
// the next week and schedules a successor far enough out for fresh
// enrollment to accumulate. Capacity-reactive, not calendar-driven.
func (s *GeneratorService) DuplicatePastCamps(ctx context.Context, now time.Time) ([]*models.Class, error) {
	ending, err := s.classes.ListEndingBetween(ctx, now, now.AddDate(0, 0, 7))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ending classes")
	}

	ids := make([]string, 0, len(ending))
	for i := range ending {
		ids = append(ids, ending[i].ID)
	}
	counts, err := s.regs.CountActiveByClasses(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count registrations")
	}

	holidays, err := s.holidays.Set(ctx)
	if err != nil {
		return nil, err
	}

	var successors []*models.Class
	for i := range ending {
		klass := &ending[i]
		if !klass.IsCamp() {
			continue
		}
		course, err := s.catalog.GetCourse(ctx, klass.CourseID)
		if err != nil {
			return nil, err
		}
		if !course.Official || course.Level != 1 {
			continue
		}
		if course.Capacity <= 0 || counts[klass.ID] < course.Capacity-1 {
			// Not close enough to full to justify a successor.
			continue
		}

		// Push the successor forward in whole weeks until there are at
		// least two weeks of enrollment runway.
		start := klass.StartAt()
		for start.Before(now.AddDate(0, 0, 14)) {
			start = start.AddDate(0, 0, 7)
		}
		successors = append(successors, s.BuildCamps(start, course, holidays)...)
		s.logger.Info("duplicating camp",
			zap.String("class_id", klass.ID),
			zap.String("course_id", course.ID),
			zap.Time("successor_start", start),
		)
	}
	return successors, nil
}
