package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

type stubCourseReader struct {
	courses      map[string]*models.Course
	subjects     map[string]*models.Subject
	courseCalls  int
	subjectCalls int
}

func (s *stubCourseReader) FindByID(_ context.Context, id string) (*models.Course, error) {
	s.courseCalls++
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return course, nil
}

func (s *stubCourseReader) FindSubjectByID(_ context.Context, id string) (*models.Subject, error) {
	s.subjectCalls++
	subject, ok := s.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return subject, nil
}

func TestCatalogServesFromCacheWithinTTL(t *testing.T) {
	repo := &stubCourseReader{courses: map[string]*models.Course{"math": {ID: "math", Name: "Math"}}}
	svc := NewCatalogService(repo, 10*time.Minute, timeutil.FixedClock{T: monday})

	for i := 0; i < 3; i++ {
		course, err := svc.GetCourse(context.Background(), "math")
		require.NoError(t, err)
		assert.Equal(t, "Math", course.Name)
	}
	assert.Equal(t, 1, repo.courseCalls)
}

func TestCatalogRefreshesAfterTTL(t *testing.T) {
	repo := &stubCourseReader{courses: map[string]*models.Course{"math": {ID: "math", Name: "Math"}}}
	svc := NewCatalogService(repo, 10*time.Minute, timeutil.FixedClock{T: monday})

	_, err := svc.GetCourse(context.Background(), "math")
	require.NoError(t, err)

	svc.clock = timeutil.FixedClock{T: monday.Add(11 * time.Minute)}
	_, err = svc.GetCourse(context.Background(), "math")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.courseCalls)
}

func TestCatalogInvalidate(t *testing.T) {
	repo := &stubCourseReader{courses: map[string]*models.Course{"math": {ID: "math"}}}
	svc := NewCatalogService(repo, 10*time.Minute, timeutil.FixedClock{T: monday})

	_, err := svc.GetCourse(context.Background(), "math")
	require.NoError(t, err)
	svc.Invalidate("math")

	_, err = svc.GetCourse(context.Background(), "math")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.courseCalls)
}

func TestCatalogNotFound(t *testing.T) {
	repo := &stubCourseReader{}
	svc := NewCatalogService(repo, 10*time.Minute, timeutil.FixedClock{T: monday})

	_, err := svc.GetCourse(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogSubjectCaching(t *testing.T) {
	repo := &stubCourseReader{subjects: map[string]*models.Subject{"sci": {ID: "sci", Name: "Science"}}}
	svc := NewCatalogService(repo, 10*time.Minute, timeutil.FixedClock{T: monday})

	subject, err := svc.GetSubject(context.Background(), "sci")
	require.NoError(t, err)
	assert.Equal(t, "Science", subject.Name)

	_, err = svc.GetSubject(context.Background(), "sci")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.subjectCalls)
}
