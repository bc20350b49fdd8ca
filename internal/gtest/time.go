package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor multiplies every scaled test timeout.
// It is read from the GPROXY_TEST_TIME_FACTOR environment variable,
// so that a loaded CI machine can run e.g. GPROXY_TEST_TIME_FACTOR=4
// without any test being edited.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("GPROXY_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse GPROXY_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("GPROXY_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

type ScaledDuration time.Duration

// ScaleMs returns ms milliseconds multiplied by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// Duration converts d back to a plain [time.Duration],
// for APIs such as deadlines and timeouts under test.
func (d ScaledDuration) Duration() time.Duration {
	return time.Duration(d)
}
