package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
)

type teacherWindowLister interface {
	ListForWindow(ctx context.Context, start, end time.Time, courseID string) ([]models.Teacher, map[string][]models.Session, error)
}

// OccupancyService batch-loads teachers for a window and builds one
// Occupancy per teacher.
type OccupancyService struct {
	teachers teacherWindowLister
	buffer   time.Duration
	logger   *zap.Logger
}

// NewOccupancyService wires the loader.
func NewOccupancyService(teachers teacherWindowLister, bufferMinutes int, logger *zap.Logger) *OccupancyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferMinutes <= 0 {
		bufferMinutes = 10
	}
	return &OccupancyService{
		teachers: teachers,
		buffer:   time.Duration(bufferMinutes) * time.Minute,
		logger:   logger,
	}
}

// Buffer returns the configured cool-down buffer.
func (s *OccupancyService) Buffer() time.Duration {
	return s.buffer
}

// GetTeacherOccupancies loads all teachers (optionally filtered to those
// qualified for courseID) with their window-overlapping sessions and
// returns an Occupancy per teacher. One batched fetch, never a query per
// teacher.
func (s *OccupancyService) GetTeacherOccupancies(ctx context.Context, start, end time.Time, courseID string) ([]*Occupancy, error) {
	teachers, sessions, err := s.teachers.ListForWindow(ctx, start, end, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher occupancies")
	}

	occupancies := make([]*Occupancy, 0, len(teachers))
	for i := range teachers {
		teacher := &teachers[i]
		occupancies = append(occupancies, NewOccupancy(teacher, sessions[teacher.ID], s.buffer))
	}

	s.logger.Debug("occupancies loaded",
		zap.Int("teachers", len(occupancies)),
		zap.Time("window_start", start),
		zap.Time("window_end", end),
		zap.String("course_id", courseID),
	)
	return occupancies, nil
}
