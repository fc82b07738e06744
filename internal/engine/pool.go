package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// Pool defaults.
const (
	DefaultWorkers  = 3
	DefaultAttempts = 3
)

// Item is one unit of pool work. The pool treats any error from Do as a
// failed attempt.
type Item struct {
	Name string
	Size int64
	Do   func(ctx context.Context) (Result, error)
}

// Result is what a successful attempt did.
type Result struct {
	Status Status
	Reason string
}

var doneResult = Result{Status: StatusDone}

func skipped(reason string) Result { return Result{Status: StatusSkipped, Reason: reason} }

// Pool runs items on a fixed number of workers, retrying failed attempts.
// A failure never stops sibling items; the pool itself never fails.
type Pool struct {
	Workers  int
	Attempts int
	// Backoff is the delay before the second attempt, doubling up to
	// MaxBackoff. Zero retries immediately.
	Backoff    time.Duration
	MaxBackoff time.Duration

	Direction Direction
	Observer
}

// Run processes items and returns one outcome per item that was started, in
// completion order. Cancelling ctx stops new items from starting; running
// attempts see the cancelled context.
func (p *Pool) Run(ctx context.Context, items []Item) Report {
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var bytes int64
	for _, it := range items {
		bytes += it.Size
	}
	p.runStarted(p.Direction, len(items), bytes)
	defer p.runComplete(p.Direction)

	queue := make(chan Item)
	results := make(chan Outcome)

	var wg sync.WaitGroup
	for id := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range queue {
				results <- p.runItem(ctx, it, id)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, it := range items {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case queue <- it:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var report Report
	for out := range results {
		p.finished(p.Direction, out)
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

func (p *Pool) runItem(ctx context.Context, it Item, worker int) Outcome {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	p.started(p.Direction, it.Name, it.Size, worker)

	out := Outcome{Name: it.Name}
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := p.backoff(ctx, attempt-1); err != nil {
				out.Err = errors.Join(out.Err, err)
				break
			}
		}

		out.Attempts = attempt
		res, err := it.Do(ctx)
		if err == nil {
			out.Status, out.Reason, out.Err = res.Status, res.Reason, nil
			if res.Status == StatusDone {
				out.Bytes = it.Size
			}
			return out
		}
		out.Err = err

		if IsPermanent(err) || ctx.Err() != nil || attempt == attempts {
			break
		}
		p.retrying(p.Direction, it.Name, attempt, err)
	}

	out.Status = StatusFailed
	return out
}

func (p *Pool) backoff(ctx context.Context, retry int) error {
	if p.Backoff <= 0 {
		return ctx.Err()
	}
	d := p.Backoff << (retry - 1)
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d <= 0) {
		d = p.MaxBackoff
	}
	// Jitter between 0.5x and 1.5x.
	d = time.Duration(float64(d) * (0.5 + rand.Float64()))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
