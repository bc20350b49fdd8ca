package gtest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] used by the channel helpers.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon receives a value from ch,
// calling tb.Fatalf if nothing arrives within a short scaled timeout.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout receives a value from ch,
// calling tb.Fatalf if nothing arrives within timeout.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked receiving from channel %T %v; if this is flaky on only one machine, set GPROXY_TEST_TIME_FACTOR to a value greater than %d",
			ch, ch, TimeFactor,
		)
		panic("unreachable")
	case x := <-ch:
		return x
	}
}

// NotSendingSoon asserts that nothing is received from ch for a short scaled duration.
func NotSendingSoon[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to check that a nil channel is not sending (%T %v)", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(ScaleMs(75)))
	defer timer.Stop()

	select {
	case <-timer.C:
		// Okay.
	case x := <-ch:
		tb.Fatalf(
			"received value %v on channel %T %v, when it was expected not to send any values",
			x, ch, ch,
		)
		panic("unreachable")
	}
}
