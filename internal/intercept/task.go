package intercept

import (
	"context"
)

// Task is a startup sequence running in the background.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs fn on its own goroutine. Cancel abandons it at the next wait.
func Start(ctx context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()

		t.err = fn(ctx)
	}()

	return t
}

func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task returns and gives its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
