package progress

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrFinished is returned by tasks resumed after they completed or failed.
var ErrFinished = errors.New("progress: task already finished")

// Step is what a task hands back from one resumption: either a suspension
// carrying a progress snapshot, or completion carrying the result as well.
type Step[T any] struct {
	Done     bool
	Progress Snapshot
	Value    T
}

// Task is a long operation split into resumable units of work. Each Resume
// performs one unit and returns. There is no cancellation: a driver that stops
// calling Resume abandons the task, and any resources it already acquired stay
// with whoever owns the task.
type Task[T any] interface {
	Resume() (Step[T], error)
}

// Run resumes task until it completes, calling onProgress with every snapshot
// (including the final one). When minDelay is positive, successive
// resumptions are spaced at least minDelay apart so a host event loop can run
// in between; zero resumes immediately.
//
// Context cancellation is the driver ceasing to resume: Run returns ctx.Err()
// and no partial result.
func Run[T any](ctx context.Context, task Task[T], onProgress func(Snapshot), minDelay time.Duration) (T, error) {
	var zero T
	var limiter *rate.Limiter
	if minDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(minDelay), 1)
	}
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		step, err := task.Resume()
		if err != nil {
			return zero, err
		}
		if onProgress != nil {
			onProgress(step.Progress)
		}
		if step.Done {
			return step.Value, nil
		}
	}
}

// Drain runs task synchronously without delays or progress callbacks.
func Drain[T any](task Task[T]) (T, error) {
	return Run(context.Background(), task, nil, 0)
}
