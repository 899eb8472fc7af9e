package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/export"
)

type stubTeacherReader struct {
	teachers map[string]*models.Teacher
}

func (s *stubTeacherReader) FindByID(_ context.Context, id string) (*models.Teacher, error) {
	if teacher, ok := s.teachers[id]; ok {
		return teacher, nil
	}
	return nil, sql.ErrNoRows
}

type stubTeacherClassLister struct {
	classes []models.Class
}

func (s *stubTeacherClassLister) ListByTeacherWindow(_ context.Context, _ string, _, _ time.Time) ([]models.Class, error) {
	return s.classes, nil
}

func newTestExport(teachers map[string]*models.Teacher, classes []models.Class, courses map[string]*models.Course) *ExportService {
	return NewExportService(
		&stubTeacherReader{teachers: teachers},
		&stubTeacherClassLister{classes: classes},
		&stubCatalog{courses: courses},
		time.UTC,
		export.NewCSVExporter(),
		export.NewPDFExporter(),
		nil,
	)
}

func TestExportTeacherScheduleCSV(t *testing.T) {
	teacher := &models.Teacher{ID: "t1", FullName: "Ada Chen"}
	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	courses := map[string]*models.Course{"math": {ID: "math", Name: "Math Foundations"}}

	svc := newTestExport(map[string]*models.Teacher{"t1": teacher}, []models.Class{*klass}, courses)

	result, err := svc.TeacherSchedule(context.Background(), "t1", monday, monday.AddDate(0, 0, 7), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, result.Filename, "Ada_Chen")

	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Start,End,Course,Class,Session", lines[0])
	assert.Contains(t, lines[1], "Math Foundations")
	assert.Contains(t, lines[1], "09:00")
}

func TestExportTeacherSchedulePDF(t *testing.T) {
	teacher := &models.Teacher{ID: "t1", FullName: "Ada Chen"}
	klass := singleSessionClass("c1", "math", monday.Add(9*time.Hour), 60)
	courses := map[string]*models.Course{"math": {ID: "math", Name: "Math Foundations"}}

	svc := newTestExport(map[string]*models.Teacher{"t1": teacher}, []models.Class{*klass}, courses)

	result, err := svc.TeacherSchedule(context.Background(), "t1", monday, monday.AddDate(0, 0, 7), FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Data), "%PDF"))
}

func TestExportTeacherScheduleUnknownTeacher(t *testing.T) {
	svc := newTestExport(map[string]*models.Teacher{}, nil, nil)

	_, err := svc.TeacherSchedule(context.Background(), "missing", monday, monday.AddDate(0, 0, 7), FormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportTeacherScheduleBadFormat(t *testing.T) {
	teacher := &models.Teacher{ID: "t1", FullName: "Ada Chen"}
	svc := newTestExport(map[string]*models.Teacher{"t1": teacher}, nil, nil)

	_, err := svc.TeacherSchedule(context.Background(), "t1", monday, monday.AddDate(0, 0, 7), ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
