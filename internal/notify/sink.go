// Package notify implements the narrow-contract notification sinks the
// stage engine fires a consolidated message into at the end of a batch
// (spec §7: "a consolidated notification at stage end"). Delivery
// failures here are never retryable — they are logged and swallowed
// (errs.KindReporting).
package notify

import "context"

// Sink delivers a notification. Implementations must not block
// indefinitely; callers are expected to apply their own timeout via ctx.
type Sink interface {
	Notify(ctx context.Context, subject, body string) error
}

// Multi fans a notification out to every sink, not stopping on individual
// failures; it returns the first failure, and later ones are dropped.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Notify(ctx, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
