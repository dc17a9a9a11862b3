package dispatch

import (
	"context"
	"time"
)

// RunWorkers launches n goroutines that each repeatedly call set.Poll until
// ctx is cancelled. onResult, if non-nil, is invoked with the outcome of
// every Poll call from whichever worker goroutine produced it; callers that
// need per-result bookkeeping must make onResult safe for concurrent use.
//
// This is the worker pool side of component G: (H) acceptors add sessions
// to set, these workers drain it.
func RunWorkers(ctx context.Context, set *PollSet, n int, pollTimeout time.Duration, onResult func(Code, error)) {
	for i := 0; i < n; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				code, err := set.Poll(pollTimeout)
				if onResult != nil {
					onResult(code, err)
				}
			}
		}()
	}
}
