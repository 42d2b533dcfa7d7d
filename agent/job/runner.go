package job

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Spec is everything a runner needs to execute one command.
type Spec struct {
	Command    string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// runner owns the lifecycle of exactly one spawned process: start, incremental
// output capture, the timeout race, termination, and the terminal transition.
// It is the only writer of its job's status and output. Failures never escape
// run; they are recorded as job state since the submitter has long since
// disconnected.
type runner struct {
	log *zap.SugaredLogger
	reg *Registry
}

// run executes the spec and blocks until the job is terminal. ctx carries the
// cancellation signal; cancellation and timeout both kill the process and then
// reap it so no zombies accumulate.
func (r *runner) run(ctx context.Context, id string, spec Spec) {
	cmd := exec.Command("/bin/sh", "-c", spec.Command)
	cmd.Dir = spec.WorkingDir
	// The shell gets its own process group so a kill reaches everything it
	// spawned, not just the shell itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	// One pipe carries both stdout and stderr so lines land in the order the
	// process emitted them.
	pr, pw, err := os.Pipe()
	if err != nil {
		r.fail(id, fmt.Errorf("creating output pipe: %w", err))
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		r.fail(id, fmt.Errorf("starting process: %w", err))
		return
	}
	r.log.Debugw("process started", "JobID", id, "PID", cmd.Process.Pid)

	// The child holds the only remaining write end, so the reader sees EOF
	// once the process (and anything it handed the fd to) is gone.
	pw.Close()

	readDone := make(chan error, 1)
	go r.readOutput(id, pr, readDone)

	// Race the read loop against the timeout and the cancellation signal. The
	// timeout clock starts here, after a successful spawn: spawn failures are
	// errors, never timeouts.
	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	select {
	case readErr := <-readDone:
		if readErr != nil {
			r.killAndReap(cmd)
			r.reg.SetTerminal(id, StatusError, KilledExitCode, fmt.Sprintf("reading process output: %s", readErr))
			return
		}
		waitErr := cmd.Wait()
		if waitErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				r.reg.SetTerminal(id, StatusError, KilledExitCode, fmt.Sprintf("waiting for process: %s", waitErr))
				return
			}
		}
		code := cmd.ProcessState.ExitCode()
		r.log.Debugw("process exited", "JobID", id, "ExitCode", code)
		r.reg.SetTerminal(id, StatusFinished, code, "")

	case <-timer.C:
		r.log.Debugw("job timed out, killing process", "JobID", id, "Timeout", spec.Timeout)
		r.killAndReap(cmd)
		pr.Close()
		<-readDone
		r.reg.SetTerminal(id, StatusTimeout, KilledExitCode, "")

	case <-ctx.Done():
		r.log.Debugw("job cancelled, killing process", "JobID", id)
		r.killAndReap(cmd)
		pr.Close()
		<-readDone
		r.reg.SetTerminal(id, StatusCancelled, KilledExitCode, "")
	}
}

// readOutput appends decoded lines to the registry as they arrive, so readers
// see output while the process is still running. Lines keep their trailing
// newline; the final line may lack one if the process didn't emit it.
func (r *runner) readOutput(id string, pr *os.File, done chan<- error) {
	defer pr.Close()
	br := bufio.NewReader(pr)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			r.reg.AppendOutput(id, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				done <- nil
			} else {
				done <- err
			}
			return
		}
	}
}

// killAndReap force-terminates the whole process group and waits for the OS
// to reap the shell. The group may already be gone (the process exited
// naturally just before the kill, or the read loop already observed EOF);
// that race is tolerated.
func (r *runner) killAndReap(cmd *exec.Cmd) {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.log.Debugf("killing process group %d: %s", cmd.Process.Pid, err)
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			r.log.Debugf("reaping process %d: %s", cmd.Process.Pid, err)
		}
	}
}

func (r *runner) fail(id string, err error) {
	r.log.Debugw("job failed", "JobID", id, "Error", err)
	r.reg.SetTerminal(id, StatusError, KilledExitCode, err.Error())
}
