package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/guseggert/execagent/agent/job"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Agent is an HTTP agent that executes shell commands on its host as
// asynchronous jobs. Clients submit a command, get a job ID back immediately,
// and then poll status, fetch the result, follow the live output stream, or
// cancel the job. It also exposes simple file browse/upload/download and
// disk-usage endpoints.
//
// The agent performs no authentication; it is meant to sit behind a reverse
// proxy that does.
type Agent struct {
	logger *zap.SugaredLogger
	cfg    Config

	jobs       *job.Service
	httpServer *http.Server
	startTime  time.Time
}

type Option func(a *Agent)

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Named("agent").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs an agent from the config.
func New(cfg Config, opts ...Option) (*Agent, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger: logger.Named("agent").Sugar(),
		cfg:    cfg.withDefaults(),
	}
	for _, o := range opts {
		o(a)
	}

	gate, err := job.NewGate(a.cfg.DenyPatterns...)
	if err != nil {
		return nil, err
	}
	a.jobs, err = job.NewService(a.logger.Named("jobs"), job.ServiceParams{
		Gate:           gate,
		BaseDir:        a.cfg.BaseDir,
		DefaultTimeout: time.Duration(a.cfg.DefaultTimeoutSeconds) * time.Second,
		TTL:            time.Duration(a.cfg.JobTTLSeconds) * time.Second,
		PollInterval:   time.Duration(a.cfg.StreamPollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run runs the agent and returns once it has stopped.
func (a *Agent) Run() error {
	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.GET("/health", a.health)
	router.POST("/exec", a.execCommand)
	router.GET("/exec/stream/:id", a.streamOutput)
	router.GET("/status/:id", a.status)
	router.GET("/result/:id", a.result)
	router.POST("/cancel/:id", a.cancel)
	router.GET("/jobs", a.listJobs)
	router.GET("/browse", a.browse)
	router.POST("/upload", a.upload)
	router.GET("/files", a.listArtifacts)
	router.GET("/files/:filename", a.getArtifact)
	router.GET("/disk", a.diskUsage)

	server := http.Server{Handler: router}
	a.httpServer = &server
	a.startTime = time.Now()

	a.logger.Infow("agent listening", "Addr", listener.Addr().String())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop cancels all running jobs and closes the HTTP server. It is safe to
// call on an agent that never started serving.
func (a *Agent) Stop() error {
	a.jobs.Close()
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Close()
}

type ExecRequest struct {
	Command        string
	WorkingDir     string
	TimeoutSeconds int
	Env            map[string]string
}

type ExecResponse struct {
	JobID string
}

type StatusResponse struct {
	JobID   string
	Status  job.Status
	Command string
}

type ResultResponse struct {
	JobID      string
	Status     job.Status
	Stdout     string
	ReturnCode int
	Error      string
}

type CancelResponse struct {
	JobID   string
	Status  job.Status
	Message string
}

type JobSummary struct {
	JobID     string
	Status    job.Status
	Command   string
	CreatedAt string
}

type ListJobsResponse struct {
	Jobs []JobSummary
}

type HealthResponse struct {
	Status        string
	UptimeSeconds float64
	JobsCount     int
}

func (a *Agent) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.writeJSON(w, HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(a.startTime).Seconds(),
		JobsCount:     a.jobs.Len(),
	})
}

func (a *Agent) execCommand(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req ExecRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		http.Error(w, "request contained no command", http.StatusBadRequest)
		return
	}

	id, err := a.jobs.Submit(job.SubmitRequest{
		Command:    req.Command,
		WorkingDir: req.WorkingDir,
		Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
		Env:        req.Env,
	})
	var blocked *job.BlockedError
	if errors.As(err, &blocked) {
		http.Error(w, blocked.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, ExecResponse{JobID: id})
}

func (a *Agent) status(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sum, err := a.jobs.Status(params.ByName("id"))
	if a.writeJobError(w, err) {
		return
	}
	a.writeJSON(w, StatusResponse{
		JobID:   sum.ID,
		Status:  sum.Status,
		Command: sum.Command,
	})
}

func (a *Agent) result(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	snap, err := a.jobs.Result(params.ByName("id"))
	if a.writeJobError(w, err) {
		return
	}
	a.writeJSON(w, ResultResponse{
		JobID:      snap.ID,
		Status:     snap.Status,
		Stdout:     snap.Result.Stdout,
		ReturnCode: snap.Result.ReturnCode,
		Error:      snap.Result.Error,
	})
}

func (a *Agent) cancel(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	status, triggered, err := a.jobs.Cancel(id)
	if a.writeJobError(w, err) {
		return
	}
	msg := "job cancelled"
	if !triggered {
		msg = fmt.Sprintf("job is already %s", status)
	}
	a.writeJSON(w, CancelResponse{JobID: id, Status: status, Message: msg})
}

func (a *Agent) listJobs(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	summaries := a.jobs.List()
	resp := ListJobsResponse{Jobs: make([]JobSummary, 0, len(summaries))}
	for _, sum := range summaries {
		resp.Jobs = append(resp.Jobs, JobSummary{
			JobID:     sum.ID,
			Status:    sum.Status,
			Command:   sum.Command,
			CreatedAt: sum.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	a.writeJSON(w, resp)
}

// writeJobError maps service errors to HTTP responses and reports whether an
// error was written.
func (a *Agent) writeJobError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, job.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return true
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
	return true
}

func (a *Agent) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		a.logger.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
