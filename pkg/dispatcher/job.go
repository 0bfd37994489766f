package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher/rule_manager"
	"github.com/google/uuid"
)

var (
	ErrMissingItem   = errors.New("no item identifier")
	ErrUnknownAction = errors.New("unknown action")
	ErrPoolStopped   = errors.New("dispatch pool stopped")
)

// Job carries a match through dispatch attempts.
type Job struct {
	ID          string
	Event       *rule_manager.MatchEvent
	Attempt     int
	NextRetryAt time.Time
}

func NewJob(ev *rule_manager.MatchEvent) *Job {

	id, _ := uuid.NewUUID()

	return &Job{
		ID:    id.String(),
		Event: ev,
	}
}

// Key groups jobs that must be handled in order.
func (j *Job) Key() string {
	return j.Event.ItemID + "\x00" + j.Event.Rule.Name
}

type Status int32

const (
	StatusSuccess Status = iota
	StatusRetry
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetry:
		return "retry"
	case StatusFailed:
		return "failed"
	}

	return "unknown"
}

// Outcome of one dispatch attempt. A retry carries the time at which the
// next attempt is due; nothing sleeps in between.
type Outcome struct {
	Status      Status
	StatusCode  int
	Attempt     int
	NextRetryAt time.Time
	Err         error
}

// DispatchError is attributed to the rule and item that caused it.
type DispatchError struct {
	Rule       string
	Item       string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DispatchError) Error() string {

	if e.StatusCode > 0 {
		return fmt.Sprintf("dispatch %s for item %q: status %d", e.Rule, e.Item, e.StatusCode)
	}

	return fmt.Sprintf("dispatch %s for item %q: %v", e.Rule, e.Item, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
