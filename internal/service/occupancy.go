package service

import (
	"time"

	"github.com/lumina-edu/scheduler-api/internal/models"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

// occupancyBlock is one committed, buffered time block held by a teacher.
type occupancyBlock struct {
	interval timeutil.Interval
	classID  string
}

// Occupancy is an ephemeral per-teacher view of committed time blocks used
// to answer availability and conflict queries. It is rebuilt fresh per
// query window and never persisted.
type Occupancy struct {
	Teacher *models.Teacher

	buffer time.Duration
	held   map[string]struct{}
	blocks []occupancyBlock
}

// NewOccupancy builds an occupancy from a teacher's existing session
// assignments, applying the cool-down buffer to every block.
func NewOccupancy(teacher *models.Teacher, sessions []models.Session, buffer time.Duration) *Occupancy {
	o := &Occupancy{
		Teacher: teacher,
		buffer:  buffer,
		held:    make(map[string]struct{}),
	}
	for _, session := range sessions {
		o.Process(session)
	}
	return o
}

// Process registers a committed session as a buffered block.
func (o *Occupancy) Process(session models.Session) {
	o.held[session.ClassID] = struct{}{}
	o.blocks = append(o.blocks, occupancyBlock{
		interval: session.Interval().WithBuffer(o.buffer),
		classID:  session.ClassID,
	})
}

// Holds reports whether the occupancy already tracks the class.
func (o *Occupancy) Holds(classID string) bool {
	_, ok := o.held[classID]
	return ok
}

// GetConflict returns the ID of the first held class clashing with any
// session of the candidate, or nil when the teacher is free. Blocks of the
// candidate's own class are skipped so a class can be moved over itself.
func (o *Occupancy) GetConflict(klass *models.Class) *string {
	for _, session := range klass.Sessions {
		candidate := session.Interval().WithBuffer(o.buffer)
		for _, block := range o.blocks {
			if block.classID == klass.ID {
				continue
			}
			if block.interval.Overlaps(candidate) {
				conflicting := block.classID
				return &conflicting
			}
		}
	}
	return nil
}

// Available reports whether the teacher can take the candidate class:
// declared hours and time off admit it, the teacher is qualified for its
// course (when qualification data was loaded), and no held block clashes.
func (o *Occupancy) Available(klass *models.Class) bool {
	if !HasTimeForClass(o.Teacher, klass) {
		return false
	}
	if len(o.Teacher.Qualifications) > 0 && o.Teacher.QualificationFor(klass.CourseID) == nil {
		return false
	}
	return o.GetConflict(klass) == nil
}

// AssignClass folds the class's sessions into the occupancy so subsequent
// queries see the slot as taken. Idempotent; persistence stays with the
// caller.
func (o *Occupancy) AssignClass(klass *models.Class) {
	if o.Holds(klass.ID) {
		return
	}
	for _, session := range klass.Sessions {
		s := session
		s.ClassID = klass.ID
		o.Process(s)
	}
}
