package service

import (
	"time"

	"github.com/lumina-edu/scheduler-api/internal/models"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

// HasTimeForClass reports whether every session of the class fits inside
// the teacher's declared working hours, net of time off. A single failing
// session fails the whole class.
func HasTimeForClass(teacher *models.Teacher, klass *models.Class) bool {
	loc, err := timeutil.LoadLocation(teacher.Timezone)
	if err != nil {
		// An unresolvable zone means availability cannot be evaluated.
		return false
	}

	timeOffs := make([]timeutil.Interval, 0, len(teacher.TimeOffs))
	for _, off := range teacher.TimeOffs {
		timeOffs = append(timeOffs, off.Interval())
	}
	merged := timeutil.MergeIntervals(timeOffs)

	for _, session := range klass.Sessions {
		if !sessionInsideWorkingHours(teacher, session, merged, loc) {
			return false
		}
	}
	return true
}

func sessionInsideWorkingHours(teacher *models.Teacher, session models.Session, timeOffs []timeutil.Interval, loc *time.Location) bool {
	for _, off := range timeOffs {
		if off.Contains(session.StartAt) || off.Contains(session.EndAt) {
			return false
		}
	}

	weekday := timeutil.LocalWeekday(session.StartAt, loc)
	windows := teacher.WindowsFor(weekday)
	if len(windows) == 0 {
		return false
	}

	startMin := timeutil.MinuteOfDay(session.StartAt, loc)
	endMin := timeutil.MinuteOfDay(session.EndAt, loc)
	if endMin == 0 {
		endMin = 24 * 60
	}
	if endMin < startMin {
		// Session crosses local midnight; declared windows never do.
		return false
	}

	for _, window := range windows {
		if window.Start <= startMin && endMin <= window.End {
			return true
		}
	}
	return false
}
