package supervisor

import (
	"errors"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a companion process.
type State string

const (
	// StateSpawned indicates the OS process started but the port is not open yet
	StateSpawned State = "spawned"
	// StateBound indicates the port accepted a connection
	StateBound State = "bound"
	// StateUnreachable indicates the port never opened within the start timeout
	StateUnreachable State = "unreachable"
	// StateTerminated indicates the OS process has exited
	StateTerminated State = "terminated"
)

// Process is a handle to a spawned companion.
type Process struct {
	// ID identifies this spawn in logs and stats.
	ID string

	// Host and Port are the address the companion was asked to bind.
	Host string
	Port int

	// StartedAt is when the OS process was started.
	StartedAt time.Time

	cmd *exec.Cmd

	mu      sync.RWMutex
	state   State
	exitErr error

	// done is closed once the OS process has been reaped
	done chan struct{}
}

func newProcess(host string, port int, cmd *exec.Cmd) *Process {
	return &Process{
		ID:        uuid.New().String(),
		Host:      host,
		Port:      port,
		StartedAt: time.Now(),
		cmd:       cmd,
		state:     StateSpawned,
		done:      make(chan struct{}),
	}
}

// Addr returns host:port.
func (p *Process) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// PID returns the OS process id, or 0 before the process started.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// State returns the current state (thread-safe)
func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// setState moves to s unless the process already terminated.
func (p *Process) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateTerminated {
		return
	}
	p.state = s
}

// Done is closed when the OS process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the OS process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error once the process exited; nil for a clean
// exit or while it is still running.
func (p *Process) ExitErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Terminate kills the process and waits for it to be reaped.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}

// reap waits for the OS process and records its exit.
func (p *Process) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.state = StateTerminated
	p.mu.Unlock()

	close(p.done)
}
