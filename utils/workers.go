package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// Workers is a group of background goroutines sharing one cancellation. A panic in a worker is
// logged and recovered instead of taking the process down.
type Workers struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkers starts funcs. They stop when ctx is done or Stop is called.
func NewWorkers(ctx context.Context, funcs ...func(context.Context)) *Workers {
	w := &Workers{}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.Go(funcs...)
	return w
}

// Go starts more workers. It is a no-op after Stop.
func (w *Workers) Go(funcs ...func(context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	w.wg.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer w.wg.Done()
			f(w.ctx)
		})
	}
}

// Stop cancels the workers and waits for all of them to return.
func (w *Workers) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}

// Context is the context handed to every worker.
func (w *Workers) Context() context.Context {
	return w.ctx
}
