package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 1200 * time.Second
	DefaultTTL          = 3600 * time.Second
	DefaultPollInterval = 300 * time.Millisecond
)

// ServiceParams configures a Service. Zero values fall back to the defaults
// above (and "/" for BaseDir); a nil Gate means the default deny-list.
type ServiceParams struct {
	Gate           *Gate
	BaseDir        string
	DefaultTimeout time.Duration
	TTL            time.Duration
	PollInterval   time.Duration
}

// Service ties the gate, registry, and runners together and is the single
// entry point for everything the HTTP layer needs: submit, status, result,
// cancel, list, and live output following.
type Service struct {
	log  *zap.SugaredLogger
	gate *Gate
	reg  *Registry

	baseDir        string
	defaultTimeout time.Duration
	pollInterval   time.Duration

	wg sync.WaitGroup
}

// NewService builds a service with its own registry.
func NewService(log *zap.SugaredLogger, params ServiceParams) (*Service, error) {
	if params.Gate == nil {
		gate, err := NewGate()
		if err != nil {
			return nil, err
		}
		params.Gate = gate
	}
	if params.BaseDir == "" {
		params.BaseDir = "/"
	}
	if params.DefaultTimeout <= 0 {
		params.DefaultTimeout = DefaultTimeout
	}
	if params.TTL <= 0 {
		params.TTL = DefaultTTL
	}
	if params.PollInterval <= 0 {
		params.PollInterval = DefaultPollInterval
	}
	return &Service{
		log:            log,
		gate:           params.Gate,
		reg:            NewRegistry(params.TTL),
		baseDir:        params.BaseDir,
		defaultTimeout: params.DefaultTimeout,
		pollInterval:   params.PollInterval,
	}, nil
}

// SubmitRequest describes one command submission.
type SubmitRequest struct {
	Command    string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// Submit validates the command against the gate, registers a job, and starts
// its runner. It returns the job ID as soon as the runner goroutine is
// launched; it never waits for the process. A *BlockedError means no job was
// created.
func (s *Service) Submit(req SubmitRequest) (string, error) {
	s.reg.PurgeExpired(time.Now())

	if reason := s.gate.Check(req.Command); reason != "" {
		return "", &BlockedError{Reason: reason}
	}

	spec := Spec{
		Command:    req.Command,
		WorkingDir: req.WorkingDir,
		Timeout:    req.Timeout,
		Env:        req.Env,
	}
	if spec.WorkingDir == "" {
		spec.WorkingDir = s.baseDir
	}
	if spec.Timeout <= 0 {
		spec.Timeout = s.defaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := s.reg.Create(req.Command, spec.WorkingDir, cancel)
	run := &runner{log: s.log.Named("runner"), reg: s.reg}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		run.run(ctx, id, spec)
	}()

	s.log.Debugw("job submitted", "JobID", id, "Command", req.Command)
	return id, nil
}

// Status returns the job's summary, or ErrNotFound.
func (s *Service) Status(id string) (Summary, error) {
	snap, ok := s.reg.Get(id)
	if !ok {
		return Summary{}, ErrNotFound
	}
	return Summary{
		ID:        snap.ID,
		Status:    snap.Status,
		Command:   snap.Command,
		CreatedAt: snap.CreatedAt,
	}, nil
}

// Result returns the job's full snapshot, or ErrNotFound. For running jobs
// the Result field is zero; re-reading a terminal job returns identical data.
func (s *Service) Result(id string) (Snapshot, error) {
	snap, ok := s.reg.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// Cancel requests termination of a running job. The terminal transition is
// applied by the job's runner, so the status may still read as running for a
// moment after Cancel returns. Cancelling an already-terminal job reports its
// current status with triggered=false.
func (s *Service) Cancel(id string) (status Status, triggered bool, err error) {
	status, triggered, ok := s.reg.Cancel(id)
	if !ok {
		return "", false, ErrNotFound
	}
	if triggered {
		s.log.Debugw("job cancellation requested", "JobID", id)
	}
	return status, triggered, nil
}

// List returns summaries of all retained jobs in submission order, evicting
// expired ones first.
func (s *Service) List() []Summary {
	s.reg.PurgeExpired(time.Now())
	return s.reg.List()
}

// Len returns the number of retained jobs.
func (s *Service) Len() int {
	return s.reg.Len()
}

// Close cancels all running jobs and waits for their runners to finish.
func (s *Service) Close() {
	for _, sum := range s.reg.List() {
		if sum.Status == StatusRunning {
			s.reg.Cancel(sum.ID)
		}
	}
	s.wg.Wait()
}
