package dispatcher

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/connector"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher/rule_manager"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var logger *zap.Logger = zap.NewNop()

// Refresher performs the remote metadata refresh.
type Refresher interface {
	Refresh(ctx context.Context, itemID string) (int, error)
}

type Dispatcher struct {
	refresher      Refresher
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	limiter        *rate.Limiter
	now            func() time.Time
	jitter         bool
}

func New(config *configs.Config, l *zap.Logger, c *connector.Connector) *Dispatcher {

	logger = l.Named("Dispatcher")

	opts := []func(*Dispatcher){
		WithMaxAttempts(config.Dispatcher.MaxAttempts),
		WithBackoff(config.Dispatcher.InitialBackoff, config.Dispatcher.MaxBackoff),
	}

	if config.Dispatcher.MaxRequestsPerSecond > 0 {
		opts = append(opts, WithRateLimit(config.Dispatcher.MaxRequestsPerSecond))
	}

	return NewDispatcher(c, opts...)
}

func NewDispatcher(refresher Refresher, opts ...func(*Dispatcher)) *Dispatcher {

	d := &Dispatcher{
		refresher:      refresher,
		maxAttempts:    configs.DefaultDispatcherMaxAttempts,
		initialBackoff: configs.DefaultDispatcherBackoff,
		maxBackoff:     configs.DefaultDispatcherMaxBackoff,
		now:            time.Now,
		jitter:         true,
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

func WithMaxAttempts(n int) func(*Dispatcher) {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithBackoff(initial time.Duration, max time.Duration) func(*Dispatcher) {
	return func(d *Dispatcher) {
		if initial > 0 {
			d.initialBackoff = initial
		}
		if max >= d.initialBackoff {
			d.maxBackoff = max
		}
	}
}

func WithoutJitter() func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.jitter = false
	}
}

// WithRateLimit caps outgoing requests across all workers.
func WithRateLimit(perSecond float64) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithClock(now func() time.Time) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func (d *Dispatcher) MaxAttempts() int {
	return d.maxAttempts
}

// Backoff returns the delay after the given failed attempt.
func (d *Dispatcher) Backoff(attempt int) time.Duration {

	delay := d.initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			delay = d.maxBackoff
			break
		}
	}

	if d.jitter && delay >= 4 {
		delay += time.Duration(rand.Int63n(int64(delay / 4)))
	}

	return delay
}

// Dispatch performs one attempt of the job's action. It never blocks for a
// backoff; a retryable failure returns StatusRetry with NextRetryAt set.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job) Outcome {

	job.Attempt++

	ev := job.Event
	fields := []zap.Field{
		zap.String("dispatch_id", job.ID),
		zap.String("rule", ev.Rule.Name),
		zap.String("action", string(ev.Rule.Action)),
		zap.String("item_id", ev.ItemID),
		zap.String("name", ev.Name),
		zap.String("file", ev.Source),
		zap.Int("attempt", job.Attempt),
	}

	var outcome Outcome
	switch ev.Rule.Action {
	case rule_manager.ActionRefreshMetadata:
		outcome = d.refreshMetadata(ctx, job)
	default:
		outcome = Outcome{
			Status: StatusFailed,
			Err: &DispatchError{
				Rule: ev.Rule.Name,
				Item: ev.ItemID,
				Err:  ErrUnknownAction,
			},
		}
	}

	outcome.Attempt = job.Attempt
	job.NextRetryAt = outcome.NextRetryAt

	fields = append(fields, zap.Int("status_code", outcome.StatusCode))

	switch outcome.Status {
	case StatusSuccess:
		logger.Info("ActionCalled", fields...)
	case StatusRetry:
		logger.Warn("ActionRetry", append(fields,
			zap.Time("next_retry_at", outcome.NextRetryAt),
			zap.Error(outcome.Err),
		)...)
	default:
		if errors.Is(outcome.Err, ErrMissingItem) {
			logger.Warn("ActionSkippedNoItemId", fields...)
			break
		}
		logger.Error("ActionFailed", append(fields, zap.Error(outcome.Err))...)
	}

	return outcome
}

func (d *Dispatcher) refreshMetadata(ctx context.Context, job *Job) Outcome {

	ev := job.Event

	if len(ev.ItemID) == 0 {
		return Outcome{
			Status: StatusFailed,
			Err: &DispatchError{
				Rule: ev.Rule.Name,
				Err:  ErrMissingItem,
			},
		}
	}

	if d.limiter != nil {
		err := d.limiter.Wait(ctx)
		if err != nil {
			return Outcome{
				Status: StatusFailed,
				Err: &DispatchError{
					Rule: ev.Rule.Name,
					Item: ev.ItemID,
					Err:  err,
				},
			}
		}
	}

	status, err := d.refresher.Refresh(ctx, ev.ItemID)

	derr := &DispatchError{
		Rule:       ev.Rule.Name,
		Item:       ev.ItemID,
		StatusCode: status,
		Err:        err,
	}

	switch {
	case err != nil:
		// Cancelled by shutdown, not worth another attempt
		if ctx.Err() != nil {
			return Outcome{Status: StatusFailed, Err: derr}
		}
		derr.Retryable = true
	case status >= http.StatusInternalServerError:
		derr.Retryable = true
	case status >= http.StatusBadRequest:
		return Outcome{Status: StatusFailed, StatusCode: status, Err: derr}
	default:
		return Outcome{Status: StatusSuccess, StatusCode: status}
	}

	if job.Attempt >= d.maxAttempts {
		return Outcome{Status: StatusFailed, StatusCode: status, Err: derr}
	}

	return Outcome{
		Status:      StatusRetry,
		StatusCode:  status,
		NextRetryAt: d.now().Add(d.Backoff(job.Attempt)),
		Err:         derr,
	}
}
