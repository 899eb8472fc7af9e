package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindSubjectByID(ctx context.Context, id string) (*models.Subject, error)
}

type catalogEntry struct {
	course    *models.Course
	subject   *models.Subject
	expiresAt time.Time
}

// CatalogService is a read-through cache over the course catalog with an
// injected clock and TTL. Entries are eventually consistent within the
// TTL.
type CatalogService struct {
	repo  courseReader
	ttl   time.Duration
	clock timeutil.Clock

	mu       sync.RWMutex
	courses  map[string]catalogEntry
	subjects map[string]catalogEntry
}

// NewCatalogService wires the catalog cache.
func NewCatalogService(repo courseReader, ttl time.Duration, clock timeutil.Clock) *CatalogService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &CatalogService{
		repo:     repo,
		ttl:      ttl,
		clock:    clock,
		courses:  make(map[string]catalogEntry),
		subjects: make(map[string]catalogEntry),
	}
}

// GetCourse returns the course, serving from cache within the TTL.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	now := s.clock.Now()

	s.mu.RLock()
	entry, ok := s.courses[id]
	s.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.course, nil
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	s.mu.Lock()
	s.courses[id] = catalogEntry{course: course, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return course, nil
}

// GetSubject returns the subject, serving from cache within the TTL.
func (s *CatalogService) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	now := s.clock.Now()

	s.mu.RLock()
	entry, ok := s.subjects[id]
	s.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.subject, nil
	}

	subject, err := s.repo.FindSubjectByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	s.mu.Lock()
	s.subjects[id] = catalogEntry{subject: subject, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return subject, nil
}

// Invalidate drops one cached course (and its subject entry, when given a
// subject ID it matches there too).
func (s *CatalogService) Invalidate(id string) {
	s.mu.Lock()
	delete(s.courses, id)
	delete(s.subjects, id)
	s.mu.Unlock()
}

// Reset clears the whole cache.
func (s *CatalogService) Reset() {
	s.mu.Lock()
	s.courses = make(map[string]catalogEntry)
	s.subjects = make(map[string]catalogEntry)
	s.mu.Unlock()
}
