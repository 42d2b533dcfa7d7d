package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndGet(t *testing.T) {
	reg := NewRegistry(time.Hour)
	id := reg.Create("echo hello", "/tmp", nil)
	require.NotEmpty(t, id)

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "echo hello", snap.Command)
	assert.Equal(t, "/tmp", snap.WorkingDir)
	assert.False(t, snap.CreatedAt.IsZero())
	assert.True(t, snap.FinishedAt.IsZero())
	assert.Empty(t, snap.Output)

	_, ok = reg.Get("no-such-job")
	assert.False(t, ok)
}

func TestRegistryListOrder(t *testing.T) {
	reg := NewRegistry(time.Hour)
	first := reg.Create("echo 1", "/", nil)
	second := reg.Create("echo 2", "/", nil)
	third := reg.Create("echo 3", "/", nil)

	summaries := reg.List()
	require.Len(t, summaries, 3)
	assert.Equal(t, []string{first, second, third}, []string{summaries[0].ID, summaries[1].ID, summaries[2].ID})
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	reg := NewRegistry(time.Hour)
	id := reg.Create("cat", "/", nil)
	reg.AppendOutput(id, "one\n")
	reg.AppendOutput(id, "two\n")

	snap, ok := reg.Get(id)
	require.True(t, ok)
	require.Equal(t, []string{"one\n", "two\n"}, snap.Output)

	snap.Output[0] = "mutated\n"
	again, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"one\n", "two\n"}, again.Output)
}

func TestRegistrySingleTerminalTransition(t *testing.T) {
	reg := NewRegistry(time.Hour)
	id := reg.Create("echo hello", "/", nil)
	reg.AppendOutput(id, "hello\n")

	require.True(t, reg.SetTerminal(id, StatusFinished, 0, ""))
	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, "hello\n", snap.Result.Stdout)
	assert.Equal(t, 0, snap.Result.ReturnCode)
	assert.False(t, snap.FinishedAt.IsZero())

	// a second transition never wins
	require.False(t, reg.SetTerminal(id, StatusCancelled, KilledExitCode, ""))
	again, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, snap.Status, again.Status)
	assert.Equal(t, snap.FinishedAt, again.FinishedAt)
	assert.Equal(t, snap.Result, again.Result)

	assert.False(t, reg.SetTerminal("no-such-job", StatusFinished, 0, ""))
}

func TestRegistryOutputFrozenAfterTerminal(t *testing.T) {
	reg := NewRegistry(time.Hour)
	id := reg.Create("echo hello", "/", nil)
	reg.AppendOutput(id, "before\n")
	require.True(t, reg.SetTerminal(id, StatusTimeout, KilledExitCode, ""))

	reg.AppendOutput(id, "after\n")
	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"before\n"}, snap.Output)
	assert.Equal(t, "before\n", snap.Result.Stdout)
}

func TestRegistryOutputSince(t *testing.T) {
	reg := NewRegistry(time.Hour)
	id := reg.Create("cat", "/", nil)
	reg.AppendOutput(id, "one\n")
	reg.AppendOutput(id, "two\n")

	lines, next, status, ok := reg.OutputSince(id, 0)
	require.True(t, ok)
	assert.Equal(t, []string{"one\n", "two\n"}, lines)
	assert.Equal(t, 2, next)
	assert.Equal(t, StatusRunning, status)

	lines, next, _, ok = reg.OutputSince(id, next)
	require.True(t, ok)
	assert.Empty(t, lines)
	assert.Equal(t, 2, next)

	reg.AppendOutput(id, "three\n")
	lines, next, _, ok = reg.OutputSince(id, next)
	require.True(t, ok)
	assert.Equal(t, []string{"three\n"}, lines)
	assert.Equal(t, 3, next)

	_, _, _, ok = reg.OutputSince("no-such-job", 0)
	assert.False(t, ok)
}

func TestRegistryCancel(t *testing.T) {
	reg := NewRegistry(time.Hour)

	cancelled := false
	id := reg.Create("sleep 10", "/", func() { cancelled = true })

	status, triggered, ok := reg.Cancel(id)
	require.True(t, ok)
	assert.True(t, triggered)
	assert.Equal(t, StatusRunning, status)
	assert.True(t, cancelled)

	require.True(t, reg.SetTerminal(id, StatusCancelled, KilledExitCode, ""))

	status, triggered, ok = reg.Cancel(id)
	require.True(t, ok)
	assert.False(t, triggered)
	assert.Equal(t, StatusCancelled, status)

	_, _, ok = reg.Cancel("no-such-job")
	assert.False(t, ok)
}

func TestRegistryPurgeExpired(t *testing.T) {
	reg := NewRegistry(time.Minute)
	doneJob := reg.Create("echo done", "/", nil)
	failedJob := reg.Create("false", "/", nil)
	runningJob := reg.Create("sleep 10", "/", nil)

	require.True(t, reg.SetTerminal(doneJob, StatusFinished, 0, ""))
	require.True(t, reg.SetTerminal(failedJob, StatusError, KilledExitCode, "boom"))

	// nothing is past the TTL yet
	reg.PurgeExpired(time.Now().Add(30 * time.Second))
	assert.Equal(t, 3, reg.Len())

	// terminal jobs past the TTL go away; running jobs are never evicted
	reg.PurgeExpired(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get(doneJob)
	assert.False(t, ok)
	_, ok = reg.Get(runningJob)
	assert.True(t, ok)

	summaries := reg.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, runningJob, summaries[0].ID)
}
