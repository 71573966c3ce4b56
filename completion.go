package opendht

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Completion is the one-shot result of an operation the engine finishes
// asynchronously (bootstrap, put). It resolves exactly once; waiting on it
// from any number of goroutines is safe.
type Completion struct {
	op   string
	done chan struct{}
	once sync.Once
	ok   bool
	err  error
}

func newCompletion(op string) *Completion {
	return &Completion{op: op, done: make(chan struct{})}
}

func (c *Completion) resolve(ok bool, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.ok = ok
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel closed once the outcome is known.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the engine reports an outcome or ctx ends. The boolean
// is the engine's success flag. A non-nil error means no outcome was
// delivered: ctx ended, or the handle was torn down first (ErrCanceled).
func (c *Completion) Wait(ctx context.Context) (bool, error) {
	select {
	case <-c.done:
		return c.ok, c.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (c *Completion) Result() (bool, error) {
	select {
	case <-c.done:
		return c.ok, c.err
	default:
		return false, ErrPending
	}
}

// completionSender is the engine-owned half of a Completion.
type completionSender struct {
	c *Completion
}

func (s *completionSender) send(ok bool) {
	s.c.resolve(ok, nil)
}

func (s *completionSender) abandon() {
	if s.c.resolve(false, ErrCanceled) {
		logrus.WithFields(logrus.Fields{
			"function":  "completionSender.abandon",
			"operation": s.c.op,
		}).Debug("Completion abandoned at teardown")
	}
}

// completionDone is the DoneFunc for one-shot operations. It reclaims the
// sender and delivers the success flag; the Completion may already have no
// waiters, which is fine.
func completionDone(success bool, state uintptr) {
	callbacksTotal.WithLabelValues(callbackDone).Inc()

	v, ok := pending.take(state)
	if !ok {
		invariantViolation("completionDone", "done callback for unknown token", state)
		return
	}
	sender, ok := v.(*completionSender)
	if !ok {
		invariantViolation("completionDone", "done callback for non-completion token", state)
		return
	}
	sender.send(success)
}
