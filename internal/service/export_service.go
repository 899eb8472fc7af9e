package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/export"
)

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type teacherClassLister interface {
	ListByTeacherWindow(ctx context.Context, teacherID string, start, end time.Time) ([]models.Class, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered output.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered schedule file.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders a teacher's upcoming schedule as CSV or PDF.
type ExportService struct {
	teachers teacherReader
	classes  teacherClassLister
	catalog  catalogReader
	location *time.Location
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(teachers teacherReader, classes teacherClassLister, catalog catalogReader, location *time.Location, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		teachers: teachers,
		classes:  classes,
		catalog:  catalog,
		location: location,
		csv:      csv,
		pdf:      pdf,
		logger:   logger,
	}
}

// TeacherSchedule renders the teacher's sessions in the window.
func (s *ExportService) TeacherSchedule(ctx context.Context, teacherID string, start, end time.Time, format ExportFormat) (*ExportResult, error) {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("teacher %s not found", teacherID))
		}
		return nil, err
	}
	classes, err := s.classes.ListByTeacherWindow(ctx, teacherID, start, end)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Date", "Start", "End", "Course", "Class", "Session"},
	}
	for i := range classes {
		klass := &classes[i]
		course, err := s.catalog.GetCourse(ctx, klass.CourseID)
		if err != nil {
			return nil, err
		}
		for _, session := range klass.Sessions {
			local := session.StartAt.In(s.location)
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Date":    local.Format("2006-01-02"),
				"Start":   local.Format("15:04"),
				"End":     session.EndAt.In(s.location).Format("15:04"),
				"Course":  course.Name,
				"Class":   klass.ID,
				"Session": fmt.Sprintf("%d", session.Idx+1),
			})
		}
	}

	title := fmt.Sprintf("Schedule %s (%s to %s)", teacher.FullName,
		start.In(s.location).Format("2006-01-02"), end.In(s.location).Format("2006-01-02"))
	base := fmt.Sprintf("schedule_%s_%s", strings.ReplaceAll(teacher.FullName, " ", "_"),
		start.In(s.location).Format("20060102"))

	switch format {
	case FormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{Filename: base + ".csv", ContentType: "text/csv", Data: data}, nil
	case FormatPDF:
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{Filename: base + ".pdf", ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}
