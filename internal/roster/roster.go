// Package roster looks up how many students and teachers are scheduled for
// a class session, with a short-lived in-process cache in front of the
// schedule service.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"sfu-gateway/internal/model"
)

// ErrUpstreamUnavailable matches every roster fetch failure.
var ErrUpstreamUnavailable = errors.New("schedule service unavailable")

// Source returns the roster of a schedule.
type Source interface {
	GetSchedule(ctx context.Context, scheduleID model.ScheduleID, orgID model.OrgID, cookie string) (model.Roster, error)
}

// UpstreamError identifies the schedule a failed fetch was for.
type UpstreamError struct {
	ScheduleID model.ScheduleID
	OrgID      model.OrgID
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("get schedule %s for org %s: %v", e.ScheduleID, e.OrgID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports true for ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Fixed is a Source that never calls out. It serves a synthetic roster of
// Students students and Teachers teachers for every schedule, for running
// without a schedule service.
type Fixed struct {
	Students int
	Teachers int
}

// GetSchedule implements Source.
func (f Fixed) GetSchedule(_ context.Context, _ model.ScheduleID, _ model.OrgID, _ string) (model.Roster, error) {
	r := model.Roster{
		Students: make([]model.Member, 0, f.Students),
		Teachers: make([]model.Member, 0, f.Teachers),
	}
	for i := 0; i < f.Students; i++ {
		r.Students = append(r.Students, model.Member{ID: "student-" + strconv.Itoa(i)})
	}
	for i := 0; i < f.Teachers; i++ {
		r.Teachers = append(r.Teachers, model.Member{ID: "teacher-" + strconv.Itoa(i)})
	}
	return r, nil
}
