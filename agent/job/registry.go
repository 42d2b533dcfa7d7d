package job

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// record is a registry entry. Mutable fields are guarded by the registry
// mutex; after creation, only the job's own runner mutates output and status,
// so writers for different jobs never contend on anything but the lock itself.
type record struct {
	id        string
	command   string
	cwd       string
	createdAt time.Time

	status     Status
	output     []string
	finishedAt time.Time
	result     Result

	// cancel signals the runner's context. The OS process handle itself is
	// owned exclusively by the runner and never stored here.
	cancel context.CancelFunc
}

// Registry is the single source of truth for all jobs, keyed by ID. All reads
// return consistent snapshots: output and status are captured under the same
// lock hold, so a reader can never observe fresh output paired with a stale
// terminal status or a torn line.
type Registry struct {
	ttl time.Duration

	mu    sync.Mutex
	jobs  map[string]*record
	order []string
}

// NewRegistry creates an empty registry. Terminal jobs older than ttl are
// evicted by PurgeExpired.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:  ttl,
		jobs: map[string]*record{},
	}
}

// Create registers a new running job and returns its generated ID. The cancel
// function is invoked by Cancel to signal the job's runner.
func (r *Registry) Create(command, cwd string, cancel context.CancelFunc) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = &record{
		id:        id,
		command:   command,
		cwd:       cwd,
		createdAt: time.Now(),
		status:    StatusRunning,
		cancel:    cancel,
	}
	r.order = append(r.order, id)
	return id
}

// Get returns a snapshot of the job, or false if it doesn't exist.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		ID:         j.id,
		Status:     j.status,
		Command:    j.command,
		WorkingDir: j.cwd,
		CreatedAt:  j.createdAt,
		FinishedAt: j.finishedAt,
		Output:     append([]string(nil), j.output...),
		Result:     j.result,
	}, true
}

// List returns summaries of all retained jobs in insertion order.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	summaries := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		j := r.jobs[id]
		summaries = append(summaries, Summary{
			ID:        j.id,
			Status:    j.status,
			Command:   j.command,
			CreatedAt: j.createdAt,
		})
	}
	return summaries
}

// Len returns the number of retained jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// AppendOutput appends one output line to a running job. Appends to unknown
// or terminal jobs are dropped: output freezes at the terminal transition.
func (r *Registry) AppendOutput(id, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.status.Terminal() {
		return
	}
	j.output = append(j.output, line)
}

// OutputSince returns the output lines at or after cursor, the next cursor
// value, and the job's status, all captured atomically. ok is false if the
// job doesn't exist (e.g. it was purged).
func (r *Registry) OutputSince(id string, cursor int) (lines []string, next int, status Status, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, found := r.jobs[id]
	if !found {
		return nil, 0, "", false
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(j.output) {
		cursor = len(j.output)
	}
	return append([]string(nil), j.output[cursor:]...), len(j.output), j.status, true
}

// SetTerminal moves a running job to a terminal status, freezing its output
// into the result and stamping finishedAt. It returns false without modifying
// anything if the job is unknown or already terminal, so exactly one terminal
// transition ever wins.
func (r *Registry) SetTerminal(id string, status Status, returnCode int, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.status.Terminal() {
		return false
	}
	j.status = status
	j.finishedAt = time.Now()
	j.result = Result{
		Stdout:     strings.Join(j.output, ""),
		ReturnCode: returnCode,
		Error:      errMsg,
	}
	j.cancel = nil
	return true
}

// Cancel invokes the job's cancellation function if it is still running.
// It returns the job's status at the time of the call, whether a cancellation
// was actually triggered, and whether the job exists. Cancelling a terminal
// job is a no-op that reports the current status.
func (r *Registry) Cancel(id string) (status Status, triggered bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, found := r.jobs[id]
	if !found {
		return "", false, false
	}
	if j.status.Terminal() {
		return j.status, false, true
	}
	if j.cancel != nil {
		j.cancel()
	}
	return j.status, true, true
}

// PurgeExpired evicts every terminal job whose finishedAt is more than the
// TTL before now. Running jobs are never evicted.
func (r *Registry) PurgeExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, id := range r.order {
		j := r.jobs[id]
		if j.status.Terminal() && now.Sub(j.finishedAt) > r.ttl {
			delete(r.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
