// Package runctx holds small helpers for loops that run until their context
// ends.
package runctx

import (
	"context"

	"pbembed/internal/logging"
)

// RecvOrDone receives from in unless ctx ends first. ok is false when ctx
// ended or in was closed.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (T, bool) {
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name+": context canceled", logging.Field("error", ctx.Err()))
		var zero T
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug("stopping " + name + ": input channel closed")
		}
		return v, ok
	}
}

func SendOrDone[T any](ctx context.Context, name string, logger *logging.Logger, out chan<- T, value T) bool {
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name+": context canceled before send", logging.Field("error", ctx.Err()))
		return false
	case out <- value:
		return true
	}
}

// SendLatest delivers value without blocking. When out is full the oldest
// pending value is discarded, so a slow reader always sees the newest state.
func SendLatest[T any](out chan T, value T) {
	for {
		select {
		case out <- value:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
