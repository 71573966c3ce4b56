package opendht

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Stream is a bounded sequence of values produced by Get or Listen.
//
// Values are copies the caller owns. A Get stream closes after the engine
// finishes enumerating; a Listen stream stays open until Close is called or
// the handle is torn down.
type Stream struct {
	ch       chan []byte
	dropped  chan struct{}
	dropOnce sync.Once
}

// C returns the receive channel. It is closed when the stream ends.
func (s *Stream) C() <-chan []byte {
	return s.ch
}

// Next returns the next value. The boolean is false once the stream has
// ended.
func (s *Stream) Next(ctx context.Context) ([]byte, bool, error) {
	select {
	case v, ok := <-s.ch:
		return v, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Collect drains the stream until it ends or ctx is done, returning what
// was received so far in either case.
func (s *Stream) Collect(ctx context.Context) ([][]byte, error) {
	var out [][]byte
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// Close drops the receiving side. The engine is told to stop at its next
// delivery attempt. Close does not drain buffered values.
func (s *Stream) Close() {
	s.dropOnce.Do(func() {
		close(s.dropped)
	})
}

// streamSender is the engine-owned half of a Stream.
type streamSender struct {
	mu      sync.Mutex
	stream  *Stream
	finite  bool
	stopped bool
	closed  bool
}

func newStream(capacity int, finite bool) (*Stream, *streamSender) {
	s := &Stream{
		ch:      make(chan []byte, capacity),
		dropped: make(chan struct{}),
	}
	return s, &streamSender{stream: s, finite: finite}
}

// trySend delivers v without blocking. It fails once the receiver was
// dropped, the sender stopped, or the buffer is full.
func (s *streamSender) trySend(v []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.closed {
		return false
	}
	select {
	case <-s.stream.dropped:
		return false
	default:
	}
	select {
	case s.stream.ch <- v:
		return true
	default:
		return false
	}
}

func (s *streamSender) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *streamSender) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.stream.ch)
	}
}

func (s *streamSender) abandon() {
	s.close()
}

// streamValues is the ValuesFunc for Get and Listen. It copies each value
// out of the engine's buffer and reports whether the engine should keep
// delivering.
//
// A Get stream is only borrowed here: the engine still calls streamDone,
// which reclaims it. A Listen stream has no done callback, so the stop
// signal is its final callback and reclaims it.
func streamValues(values [][]byte, state uintptr) bool {
	callbacksTotal.WithLabelValues(callbackValues).Inc()

	v, ok := pending.borrow(state)
	if !ok {
		// The token was reclaimed by a stop signal or teardown; the engine
		// is racing a delivery it already agreed to end.
		return false
	}
	sender, ok := v.(*streamSender)
	if !ok {
		invariantViolation("streamValues", "values callback for non-stream token", state)
		return false
	}
	if len(values) == 0 {
		return true
	}

	for _, value := range values {
		if sender.trySend(append([]byte{}, value...)) {
			continue
		}
		sender.stop()
		backpressureStops.Inc()
		logrus.WithFields(logrus.Fields{
			"function": "streamValues",
			"token":    state,
			"finite":   sender.finite,
		}).Debug("Stream full or dropped, stopping delivery")

		if !sender.finite {
			if _, taken := pending.take(state); taken {
				sender.close()
			}
		}
		return false
	}
	return true
}

// streamDone is the DoneFunc for Get. It reclaims the stream and closes it,
// whatever the success flag; a Get that found nothing is an empty stream.
func streamDone(success bool, state uintptr) {
	callbacksTotal.WithLabelValues(callbackDone).Inc()

	v, ok := pending.take(state)
	if !ok {
		invariantViolation("streamDone", "done callback for unknown token", state)
		return
	}
	sender, ok := v.(*streamSender)
	if !ok {
		invariantViolation("streamDone", "done callback for non-stream token", state)
		return
	}
	if !success {
		logrus.WithFields(logrus.Fields{
			"function": "streamDone",
			"token":    state,
		}).Debug("Get finished unsuccessfully")
	}
	sender.close()
}
