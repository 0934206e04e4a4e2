// Package process implements generic subprocess management functions.
package process

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/wheelhouse-io/wheelhouse/src/cli"
)

var log = logging.MustGetLogger("process")

// An Executor handles starting, running and monitoring a set of subprocesses.
// It registers as a signal handler to attempt to terminate them all at process exit.
type Executor struct {
	processes map[*exec.Cmd]struct{}
	mutex     sync.Mutex
}

// New returns a new Executor.
func New() *Executor {
	e := &Executor{
		processes: map[*exec.Cmd]struct{}{},
	}
	cli.AtExit(e.killAll) // Kill any subprocess if we are ourselves killed
	return e
}

// A Command is a started subprocess whose completion can be awaited.
// Its combined stdout/stderr is captured and available after Wait.
type Command struct {
	executor *Executor
	cmd      *exec.Cmd
	output   safeBuffer
}

// Start begins a subprocess running in dir with the given environment.
// The returned Command must be waited on.
func (e *Executor) Start(dir string, env []string, argv []string) (*Command, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	// Always create a process group so we can terminate descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c := &Command{executor: e, cmd: cmd}
	cmd.Stdout = &c.output
	cmd.Stderr = &c.output
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	e.mutex.Lock()
	e.processes[cmd] = struct{}{}
	e.mutex.Unlock()
	log.Debug("Started %s (pid %d)", argv, cmd.Process.Pid)
	return c, nil
}

// Wait blocks until the subprocess exits. A nonzero exit is returned as the error
// from exec; the captured output remains available via Output.
func (c *Command) Wait() error {
	err := c.cmd.Wait()
	c.executor.removeProcess(c.cmd)
	return err
}

// Output returns the combined stdout and stderr captured so far.
func (c *Command) Output() []byte {
	return c.output.Bytes()
}

// KillProcess kills a process, attempting to send it a SIGTERM first followed by a SIGKILL
// shortly after if it hasn't exited.
func (e *Executor) KillProcess(cmd *exec.Cmd) {
	success := killProcess(cmd, syscall.SIGTERM, 30*time.Millisecond)
	if !killProcess(cmd, syscall.SIGKILL, time.Second) && !success {
		log.Error("Failed to kill inferior process")
	}
	e.removeProcess(cmd)
}

func (e *Executor) removeProcess(cmd *exec.Cmd) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.processes, cmd)
}

// killProcess implements the two-step killing of processes with a SIGTERM and a SIGKILL if
// that's unsuccessful. It returns true if the process exited within the timeout.
func killProcess(cmd *exec.Cmd, sig syscall.Signal, timeout time.Duration) bool {
	if cmd.Process == nil {
		log.Debug("Not terminating process, it seems to have not started yet")
		return false
	}
	log.Debug("Sending signal %s to -%d", sig, cmd.Process.Pid)
	syscall.Kill(-cmd.Process.Pid, sig) // Kill the group - we always set one in Start.
	ch := make(chan error, 1)
	go func() { ch <- cmd.Wait() }()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// killAll kills all subprocesses of this executor.
func (e *Executor) killAll() {
	e.mutex.Lock()
	processes := make([]*exec.Cmd, 0, len(e.processes))
	for proc := range e.processes {
		processes = append(processes, proc)
	}
	e.mutex.Unlock()

	if len(processes) > 0 {
		var wg sync.WaitGroup
		wg.Add(len(processes))
		for _, proc := range processes {
			go func(proc *exec.Cmd) {
				e.KillProcess(proc)
				wg.Done()
			}(proc)
		}
		wg.Wait()
	}
}

// safeBuffer is an io.Writer that ensures that only one thread writes to it at a time.
// This is important because we have both stdout and stderr writing to the same
// buffer, and os/exec only guarantees goroutine-safety if both are the same writer.
type safeBuffer struct {
	mutex sync.Mutex
	buf   []byte
}

func (sb *safeBuffer) Write(b []byte) (int, error) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	sb.buf = append(sb.buf, b...)
	return len(b), nil
}

func (sb *safeBuffer) Bytes() []byte {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	return sb.buf
}
