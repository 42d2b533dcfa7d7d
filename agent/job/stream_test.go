package job

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains a follow channel into lines and the terminal marker.
func collect(t *testing.T, events <-chan StreamEvent) (lines []string, marker *StreamEvent) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return lines, marker
			}
			if ev.Done {
				marker = &ev
			} else {
				lines = append(lines, ev.Line)
			}
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestFollow(t *testing.T) {
	svc := newTestService(t, ServiceParams{})

	id, err := svc.Submit(SubmitRequest{Command: "for i in 1 2 3; do echo line $i; done"})
	require.NoError(t, err)

	events, err := svc.Follow(context.Background(), id)
	require.NoError(t, err)

	lines, marker := collect(t, events)
	assert.Equal(t, "line 1\nline 2\nline 3\n", strings.Join(lines, ""))
	require.NotNil(t, marker)
	assert.Equal(t, StatusFinished, marker.Status)
}

func TestFollowLiveThenLateSubscriber(t *testing.T) {
	svc := newTestService(t, ServiceParams{})

	id, err := svc.Submit(SubmitRequest{Command: "echo early; sleep 1; echo late"})
	require.NoError(t, err)

	// first subscriber joins while the job is running
	early, err := svc.Follow(context.Background(), id)
	require.NoError(t, err)
	earlyLines, earlyMarker := collect(t, early)

	// second subscriber joins after the job is terminal and still sees the
	// full sequence from the beginning
	late, err := svc.Follow(context.Background(), id)
	require.NoError(t, err)
	lateLines, lateMarker := collect(t, late)

	assert.Equal(t, []string{"early\n", "late\n"}, earlyLines)
	assert.Equal(t, earlyLines, lateLines)
	require.NotNil(t, earlyMarker)
	require.NotNil(t, lateMarker)
	assert.Equal(t, *earlyMarker, *lateMarker)
	assert.Equal(t, StatusFinished, lateMarker.Status)
}

func TestFollowUnknownJob(t *testing.T) {
	svc := newTestService(t, ServiceParams{})

	_, err := svc.Follow(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowContextCancel(t *testing.T) {
	svc := newTestService(t, ServiceParams{})

	id, err := svc.Submit(SubmitRequest{Command: "sleep 30"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.Follow(ctx, id)
	require.NoError(t, err)

	cancel()
	_, marker := collect(t, events)
	assert.Nil(t, marker)

	_, _, err = svc.Cancel(id)
	require.NoError(t, err)
}

func TestFollowJobPurgedMidStream(t *testing.T) {
	svc := newTestService(t, ServiceParams{TTL: time.Nanosecond, PollInterval: 2 * time.Second})

	// drive the registry directly so the purge lands between two of the
	// follower's polls: the first poll sees a running job, then the job is
	// terminal and purged long before the next tick
	id := svc.reg.Create("echo hello", "/", nil)
	events, err := svc.Follow(context.Background(), id)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	require.True(t, svc.reg.SetTerminal(id, StatusFinished, 0, ""))
	svc.reg.PurgeExpired(time.Now().Add(time.Hour))

	// the stream closes without a terminal marker and without error
	lines, marker := collect(t, events)
	assert.Empty(t, lines)
	assert.Nil(t, marker)
}
