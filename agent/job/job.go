package job

import (
	"errors"
	"fmt"
	"time"
)

// Status describes where a job is in its lifecycle. A job starts as
// StatusRunning and moves exactly once to one of the terminal statuses.
type Status string

const (
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != "" && s != StatusRunning
}

// KilledExitCode is recorded as the return code when a process did not report
// a real exit code: it was killed due to timeout or cancellation, or it failed
// before or during the wait. Real exit codes are never negative, so this is
// unambiguous.
const KilledExitCode = -1

// Result holds the outcome of a terminal job.
type Result struct {
	// Stdout is the joined combined stdout/stderr output captured before the
	// job reached its terminal status.
	Stdout string

	// ReturnCode is the process exit code, or KilledExitCode if the process
	// was killed or never reported one. StatusError jobs always carry
	// KilledExitCode, including spawn failures where no process ever ran.
	ReturnCode int

	// Error describes the failure for StatusError jobs, and is empty
	// otherwise.
	Error string
}

// Summary is the listing view of a job.
type Summary struct {
	ID        string
	Status    Status
	Command   string
	CreatedAt time.Time
}

// Snapshot is a consistent point-in-time copy of a job's observable state.
// Output and Status are captured atomically, so a terminal Status implies
// Output is complete.
type Snapshot struct {
	ID         string
	Status     Status
	Command    string
	WorkingDir string
	CreatedAt  time.Time
	FinishedAt time.Time
	Output     []string
	Result     Result
}

// ErrNotFound is returned when an operation references an unknown or
// already-purged job ID.
var ErrNotFound = errors.New("job not found")

// BlockedError is returned by Submit when the command matches the deny-list.
// No job is created in that case.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command blocked: %s", e.Reason)
}
