package dispatcher

import (
	"context"
	"sync"
	"time"

	jump "github.com/lithammer/go-jump-consistent-hash"
	"go.uber.org/zap"
)

type Handler func(context.Context, *Job) Outcome

// Pool runs jobs on a fixed set of workers. Jobs with the same key always
// land on the same worker, so they are handled in submission order.
type Pool struct {
	handler   Handler
	onOutcome func(*Job, Outcome)
	shards    []chan *Job

	// closed before Stop takes mu so blocked senders give up
	quit     chan struct{}
	quitOnce sync.Once

	mu      sync.RWMutex
	stopped bool

	retryMu sync.Mutex
	retries map[string]*retryTimer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type retryTimer struct {
	job   *Job
	timer *time.Timer
}

func NewPool(workers int, queueSize int, handler Handler, opts ...func(*Pool)) *Pool {

	if workers <= 0 {
		workers = 1
	}

	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		handler:   handler,
		onOutcome: func(*Job, Outcome) {},
		shards:    make([]chan *Job, workers),
		quit:      make(chan struct{}),
		retries:   make(map[string]*retryTimer),
	}

	// Queue capacity is spread across workers
	perShard := queueSize / workers
	for i := range p.shards {
		p.shards[i] = make(chan *Job, perShard)
	}

	for _, o := range opts {
		o(p)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	return p
}

func WithOutcomeHandler(fn func(*Job, Outcome)) func(*Pool) {
	return func(p *Pool) {
		p.onOutcome = fn
	}
}

func (p *Pool) Start() {

	for _, shard := range p.shards {
		p.wg.Add(1)
		go p.run(shard)
	}
}

func (p *Pool) run(shard chan *Job) {

	defer p.wg.Done()

	for job := range shard {
		outcome := p.handler(p.ctx, job)
		p.onOutcome(job, outcome)

		if outcome.Status == StatusRetry {
			p.scheduleRetry(job, outcome.NextRetryAt)
		}
	}
}

func (p *Pool) shardOf(job *Job) chan *Job {
	idx := jump.HashString(job.Key(), int32(len(p.shards)), jump.NewCRC64())
	return p.shards[idx]
}

// Submit queues a job. It blocks while the worker's queue is full, until
// ctx is done or Stop begins.
func (p *Pool) Submit(ctx context.Context, job *Job) error {

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.shardOf(job) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

func (p *Pool) scheduleRetry(job *Job, at time.Time) {

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.abandon(job)
		return
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	rt := &retryTimer{job: job}
	rt.timer = time.AfterFunc(delay, func() {

		p.retryMu.Lock()
		delete(p.retries, job.ID)
		p.retryMu.Unlock()

		err := p.Submit(p.ctx, job)
		if err != nil {
			p.abandon(job)
		}
	})

	p.retries[job.ID] = rt
}

func (p *Pool) abandon(job *Job) {

	logger.Warn("Retry abandoned",
		zap.String("dispatch_id", job.ID),
		zap.String("rule", job.Event.Rule.Name),
		zap.String("item_id", job.Event.ItemID),
		zap.Int("attempt", job.Attempt),
	)

	p.onOutcome(job, Outcome{
		Status:  StatusFailed,
		Attempt: job.Attempt,
		Err: &DispatchError{
			Rule: job.Event.Rule.Name,
			Item: job.Event.ItemID,
			Err:  ErrPoolStopped,
		},
	})
}

// Pending returns the number of queued jobs and scheduled retries.
func (p *Pool) Pending() int {

	n := 0
	for _, shard := range p.shards {
		n += len(shard)
	}

	p.retryMu.Lock()
	n += len(p.retries)
	p.retryMu.Unlock()

	return n
}

// Stop refuses new jobs, drops scheduled retries and lets workers drain
// what is already queued. In-flight requests are cancelled once ctx is done.
func (p *Pool) Stop(ctx context.Context) error {

	p.quitOnce.Do(func() {
		close(p.quit)
	})

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true

	p.retryMu.Lock()
	dropped := make([]*Job, 0, len(p.retries))
	for id, rt := range p.retries {
		if rt.timer.Stop() {
			dropped = append(dropped, rt.job)
		}
		delete(p.retries, id)
	}
	p.retryMu.Unlock()

	for _, shard := range p.shards {
		close(shard)
	}
	p.mu.Unlock()

	for _, job := range dropped {
		p.abandon(job)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
