package concur

import (
	"context"
	"sync"
	"sync/atomic"
)

// ForEach runs taskFunc for every task with at most workerLimit goroutines.
//
// The first failing task cancels the context handed to the others and stops
// dispatching; tasks that already finished are not undone. ForEach returns
// once every worker has exited, together with the number of tasks that
// succeeded and the first error.
//
// A cancelled parent context stops dispatching as well and its error is
// returned when no task failed first.
func ForEach[T any](
	ctx context.Context,
	workerLimit int,
	tasks []T,
	taskFunc func(context.Context, T) error,
) (int, error) {
	if workerLimit < 1 {
		workerLimit = 1
	}
	if workerLimit > len(tasks) {
		workerLimit = len(tasks)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		once      sync.Once
		firstErr  error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	taskChan := make(chan T)
	for i := 0; i < workerLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				// drain without running once aborted
				if ctx.Err() != nil {
					continue
				}
				if err := taskFunc(ctx, task); err != nil {
					fail(err)
					continue
				}
				succeeded.Add(1)
			}
		}()
	}

dispatch:
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			break dispatch
		case taskChan <- task:
		}
	}
	close(taskChan)
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		// parent cancellation (our own cancel only fires through fail)
		firstErr = context.Cause(ctx)
	}
	return int(succeeded.Load()), firstErr
}
