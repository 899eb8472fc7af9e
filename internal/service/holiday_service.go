package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
)

const holidayCacheKey = "scheduler:holidays"

// HolidaySet answers date membership in the business timezone.
type HolidaySet struct {
	dates map[string]struct{}
	loc   *time.Location
}

// Contains reports whether the instant's business-timezone date is a
// holiday.
func (h HolidaySet) Contains(t time.Time) bool {
	if h.dates == nil {
		return false
	}
	_, ok := h.dates[t.In(h.loc).Format("2006-01-02")]
	return ok
}

type holidayLister interface {
	ListAll(ctx context.Context) ([]models.Holiday, error)
}

type holidayCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// HolidayService serves the static holiday calendar through a Redis
// read-through cache. Cache failures degrade to direct reads.
type HolidayService struct {
	repo   holidayLister
	cache  holidayCache
	ttl    time.Duration
	loc    *time.Location
	logger *zap.Logger
}

// NewHolidayService wires the holiday lookup.
func NewHolidayService(repo holidayLister, cache holidayCache, ttl time.Duration, loc *time.Location, logger *zap.Logger) *HolidayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HolidayService{repo: repo, cache: cache, ttl: ttl, loc: loc, logger: logger}
}

// Set returns the holiday date set for recurrence math.
func (s *HolidayService) Set(ctx context.Context) (HolidaySet, error) {
	var dates []string
	if s.cache != nil {
		err := s.cache.Get(ctx, holidayCacheKey, &dates)
		if err == nil {
			return s.build(dates), nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("holiday cache read failed", zap.Error(err))
		}
	}

	holidays, err := s.repo.ListAll(ctx)
	if err != nil {
		return HolidaySet{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
	}
	dates = make([]string, 0, len(holidays))
	for _, h := range holidays {
		dates = append(dates, h.Date)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, holidayCacheKey, dates, s.ttl); err != nil {
			s.logger.Warn("holiday cache write failed", zap.Error(err))
		}
	}
	return s.build(dates), nil
}

func (s *HolidayService) build(dates []string) HolidaySet {
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	return HolidaySet{dates: set, loc: s.loc}
}

// NewHolidaySet builds a set from plain dates. Test helper and direct-use
// constructor for callers that already hold the list.
func NewHolidaySet(dates []string, loc *time.Location) HolidaySet {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	return HolidaySet{dates: set, loc: loc}
}
