package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/dto"
	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type classStore interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	ReplaceSessions(ctx context.Context, tx *sqlx.Tx, classID string, sessions []models.Session) error
}

type rescheduleNotifier interface {
	NotifyReschedule(classID string, newStart time.Time)
}

// SchedulingService is the request-facing facade over the scheduling
// core: it validates payloads, loads the touched entities and delegates
// to the planner, selector and conflict services.
type SchedulingService struct {
	classes   classStore
	planner   *PlannerService
	selector  *BestFitService
	conflicts *ConflictService
	notifier  rescheduleNotifier
	metrics   *MetricsService
	clock     timeutil.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSchedulingService creates the facade. notifier may be nil.
func NewSchedulingService(
	classes classStore,
	planner *PlannerService,
	selector *BestFitService,
	conflicts *ConflictService,
	notifier rescheduleNotifier,
	metrics *MetricsService,
	clock timeutil.Clock,
	validate *validator.Validate,
	logger *zap.Logger,
) *SchedulingService {
	if validate == nil {
		validate = validator.New()
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulingService{
		classes:   classes,
		planner:   planner,
		selector:  selector,
		conflicts: conflicts,
		notifier:  notifier,
		metrics:   metrics,
		clock:     clock,
		validator: validate,
		logger:    logger,
	}
}

// Propose returns bookable candidate classes for the course.
func (s *SchedulingService) Propose(ctx context.Context, req dto.ProposeSchedulesRequest) ([]*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid propose payload")
	}
	from := req.From
	if from.IsZero() {
		from = s.clock.Now()
	}
	days := req.Days
	if days == 0 {
		days = 7
	}
	return s.planner.ProposeSchedules(ctx, req.CourseID, from, days)
}

// Suggest picks the best available teacher for the class, or reports that
// nobody can take it.
func (s *SchedulingService) Suggest(ctx context.Context, classID string) (*dto.SuggestTeacherResponse, error) {
	klass, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	teacher, err := s.selector.SuggestBestFit(ctx, klass)
	if err != nil {
		return nil, err
	}
	if teacher == nil {
		s.logger.Info("no teacher available", zap.String("class_id", classID))
		return &dto.SuggestTeacherResponse{}, nil
	}
	return &dto.SuggestTeacherResponse{TeacherID: &teacher.ID, TeacherName: teacher.FullName}, nil
}

// Assign binds a teacher to the class and repairs any conflicts the
// assignment creates for neighbouring unassigned classes.
func (s *SchedulingService) Assign(ctx context.Context, classID string, req dto.AssignTeacherRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assign payload")
	}
	klass, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if klass.HasTeacher() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned, "")
	}

	if err := s.selector.AssignTeacher(ctx, klass, req.TeacherID); err != nil {
		return nil, err
	}
	s.metrics.RecordAssignment(klass.IsTrial())

	// Conflict repair is best-effort; the assignment itself has committed.
	if err := s.conflicts.BustConflicts(ctx, klass); err != nil {
		s.logger.Error("conflict repair failed after assignment",
			zap.String("class_id", classID),
			zap.Error(err),
		)
	}
	return klass, nil
}

// Reschedule shifts every session of the class by the gap between its
// current start and the requested one. The session set is replaced
// wholesale in one transaction; session ordering never mutates in place.
func (s *SchedulingService) Reschedule(ctx context.Context, classID string, req dto.RescheduleClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	klass, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if len(klass.Sessions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class has no sessions to move")
	}

	delta := req.StartAt.Sub(klass.StartAt())
	if delta == 0 {
		return klass, nil
	}
	sessions := make([]models.Session, len(klass.Sessions))
	for i, session := range klass.Sessions {
		sessions[i] = models.Session{
			StartAt: session.StartAt.Add(delta),
			EndAt:   session.EndAt.Add(delta),
		}
	}

	tx, err := s.classes.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err := s.classes.ReplaceSessions(ctx, tx, classID, sessions); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reschedule")
	}
	klass.Sessions = sessions

	if s.notifier != nil {
		s.notifier.NotifyReschedule(classID, req.StartAt)
	}

	// Moving an assigned class can free or collide slots around it.
	if klass.HasTeacher() {
		if err := s.conflicts.BustConflicts(ctx, klass); err != nil {
			s.logger.Error("conflict repair failed after reschedule",
				zap.String("class_id", classID),
				zap.Error(err),
			)
		}
	}
	return klass, nil
}

// BustConflicts re-runs conflict repair around the class on demand.
func (s *SchedulingService) BustConflicts(ctx context.Context, classID string) error {
	klass, err := s.loadClass(ctx, classID)
	if err != nil {
		return err
	}
	return s.conflicts.BustConflicts(ctx, klass)
}

// RunPlanner triggers one full planner execution.
func (s *SchedulingService) RunPlanner(ctx context.Context) (*dto.PlannerRunResponse, error) {
	created, err := s.planner.ScheduleClasses(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.PlannerRunResponse{Created: created}, nil
}

// ParseExportWindow validates and normalises an export request.
func (s *SchedulingService) ParseExportWindow(req dto.ExportScheduleRequest) (time.Time, time.Time, ExportFormat, error) {
	if err := s.validator.Struct(req); err != nil {
		return time.Time{}, time.Time{}, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export window")
	}
	if !req.To.After(req.From) {
		return time.Time{}, time.Time{}, "", appErrors.Clone(appErrors.ErrValidation, "export window must end after it starts")
	}
	format := ExportFormat(req.Format)
	if format == "" {
		format = FormatCSV
	}
	return req.From, req.To, format, nil
}

func (s *SchedulingService) loadClass(ctx context.Context, classID string) (*models.Class, error) {
	klass, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return klass, nil
}
