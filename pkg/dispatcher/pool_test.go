package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	final    chan Outcome
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{
		final: make(chan Outcome, 64),
	}
}

func (r *outcomeRecorder) Record(job *Job, outcome Outcome) {

	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()

	if outcome.Status != StatusRetry {
		r.final <- outcome
	}
}

func (r *outcomeRecorder) Wait(t *testing.T) Outcome {

	select {
	case o := <-r.final:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no final outcome")
	}

	return Outcome{}
}

func TestPoolRetriesServerErrors(t *testing.T) {

	r := &fakeRefresher{statuses: []int{http.StatusInternalServerError}}
	d := NewDispatcher(r,
		WithMaxAttempts(3),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond),
	)

	rec := newOutcomeRecorder()
	p := NewPool(2, 16, d.Dispatch, WithOutcomeHandler(rec.Record))
	p.Start()
	defer p.Stop(context.Background())

	require.NoError(t, p.Submit(context.Background(), createTestJob(t, "101")))

	final := rec.Wait(t)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 3, final.Attempt)
	assert.Len(t, r.Calls(), 3)
}

func TestPoolStopsOnClientError(t *testing.T) {

	r := &fakeRefresher{statuses: []int{http.StatusNotFound}}
	d := NewDispatcher(r, WithBackoff(10*time.Millisecond, 20*time.Millisecond))

	rec := newOutcomeRecorder()
	p := NewPool(2, 16, d.Dispatch, WithOutcomeHandler(rec.Record))
	p.Start()
	defer p.Stop(context.Background())

	require.NoError(t, p.Submit(context.Background(), createTestJob(t, "101")))

	final := rec.Wait(t)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 1, final.Attempt)
	assert.Len(t, r.Calls(), 1)
}

func TestPoolKeepsOrderPerKey(t *testing.T) {

	var mu sync.Mutex
	var order []string

	handler := func(ctx context.Context, job *Job) Outcome {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return Outcome{Status: StatusSuccess}
	}

	rec := newOutcomeRecorder()
	p := NewPool(4, 64, handler, WithOutcomeHandler(rec.Record))
	p.Start()

	var want []string
	for i := 0; i < 20; i++ {
		job := createTestJob(t, "101")
		want = append(want, job.ID)
		require.NoError(t, p.Submit(context.Background(), job))
	}

	require.NoError(t, p.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestPoolStopDropsScheduledRetries(t *testing.T) {

	r := &fakeRefresher{statuses: []int{http.StatusServiceUnavailable}}
	d := NewDispatcher(r,
		WithMaxAttempts(5),
		WithBackoff(time.Hour, time.Hour),
	)

	rec := newOutcomeRecorder()
	p := NewPool(1, 4, d.Dispatch, WithOutcomeHandler(rec.Record))
	p.Start()

	require.NoError(t, p.Submit(context.Background(), createTestJob(t, "101")))

	assert.Eventually(t, func() bool {
		return p.Pending() == 1 && len(r.Calls()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))

	final := rec.Wait(t)
	assert.Equal(t, StatusFailed, final.Status)
	assert.ErrorIs(t, final.Err, ErrPoolStopped)
	assert.Equal(t, 0, p.Pending())

	assert.ErrorIs(t, p.Submit(context.Background(), createTestJob(t, "102")), ErrPoolStopped)
}

func TestPoolStopCancelsInFlightAfterGrace(t *testing.T) {

	started := make(chan struct{})
	handler := func(ctx context.Context, job *Job) Outcome {
		close(started)
		<-ctx.Done()
		return Outcome{Status: StatusFailed, Err: ctx.Err()}
	}

	p := NewPool(1, 1, handler)
	p.Start()

	require.NoError(t, p.Submit(context.Background(), createTestJob(t, "101")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolStopWithRetryBlockedOnFullQueue(t *testing.T) {

	first := createTestJob(t, "101")
	second := createTestJob(t, "101")
	third := createTestJob(t, "101")

	inFlight := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	handler := func(ctx context.Context, job *Job) Outcome {
		switch job {
		case first:
			if job.Attempt == 0 {
				job.Attempt++
				return Outcome{Status: StatusRetry, NextRetryAt: time.Now().Add(50 * time.Millisecond)}
			}
		case second:
			once.Do(func() {
				close(inFlight)
			})
			<-release
			return Outcome{Status: StatusRetry, NextRetryAt: time.Now().Add(time.Millisecond)}
		}

		return Outcome{Status: StatusSuccess}
	}

	rec := newOutcomeRecorder()
	p := NewPool(1, 1, handler, WithOutcomeHandler(rec.Record))
	p.Start()

	require.NoError(t, p.Submit(context.Background(), first))
	require.NoError(t, p.Submit(context.Background(), second))
	<-inFlight
	require.NoError(t, p.Submit(context.Background(), third))

	// Retry of the first job now waits on the full queue
	time.Sleep(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	stopped := make(chan error, 1)
	go func() {
		stopped <- p.Stop(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after its grace period")
	}

	abandoned := 0
	for i := 0; i < 3; i++ {
		o := rec.Wait(t)
		if errors.Is(o.Err, ErrPoolStopped) {
			abandoned++
		}
	}

	assert.Equal(t, 2, abandoned)
	assert.Equal(t, 0, p.Pending())
}
