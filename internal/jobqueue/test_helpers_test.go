package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// waitForChannel waits for a signal on the channel or fails after timeout
func waitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

const (
	// DefaultTestTimeout is the standard timeout for async test operations
	DefaultTestTimeout = 5 * time.Second
	// testInterval keeps the ticker fast in tests
	testInterval = 10 * time.Millisecond
)

func newTestQueue(t *testing.T, opts Options) *JobQueue {
	t.Helper()
	if opts.ProcessingInterval == 0 {
		opts.ProcessingInterval = testInterval
	}
	q := New(opts)
	q.Start(t.Context())
	t.Cleanup(func() { require.NoError(t, q.Stop()) })
	return q
}

func waitForStatus(t *testing.T, q *JobQueue, id string, want JobStatus) JobSnapshot {
	t.Helper()
	var snap JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = q.Get(id)
		return err == nil && snap.Status == want
	}, DefaultTestTimeout, testInterval, "job %s never reached %s", id, want)
	return snap
}
