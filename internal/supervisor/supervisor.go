package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"yarals/internal/config"
	"yarals/internal/errors"
	"yarals/internal/paths"
)

const (
	// DefaultStartTimeout bounds the port wait when the config leaves it unset
	DefaultStartTimeout = 10 * time.Second

	// DefaultPollInterval is the delay between two port checks
	DefaultPollInterval = 200 * time.Millisecond

	// waitDelay bounds how long Wait keeps copying output after the companion exits
	waitDelay = 2 * time.Second
)

// Supervisor spawns companion processes and tracks them by address.
type Supervisor struct {
	cfg        config.ServerConfig
	installDir string
	logger     *slog.Logger

	// processes maps host:port to the last process started for it
	processes map[string]*Process

	// mu protects processes
	mu sync.RWMutex

	// group collapses concurrent starts for one address
	group singleflight.Group

	// output, when set, receives every companion line as "[stream] line"
	output *lockedWriter
}

// New creates a supervisor from the server and install config.
func New(cfg *config.Config, logger *slog.Logger) *Supervisor {
	server := cfg.Server
	if server.StartTimeoutMs <= 0 {
		server.StartTimeoutMs = int(DefaultStartTimeout / time.Millisecond)
	}
	if server.PollIntervalMs <= 0 {
		server.PollIntervalMs = int(DefaultPollInterval / time.Millisecond)
	}

	return &Supervisor{
		cfg:        server,
		installDir: cfg.Install.Dir,
		logger:     logger.With("component", "supervisor"),
		processes:  make(map[string]*Process),
	}
}

// WithOutput copies companion stdout and stderr to w, typically the rotating
// file named by server.outputLog. Lines still reach the logger at debug.
func (s *Supervisor) WithOutput(w io.Writer) *Supervisor {
	if w == nil {
		s.output = nil
		return s
	}
	s.output = &lockedWriter{w: w}
	return s
}

// StartProcess spawns the companion for (host, port) and blocks until the
// port accepts a connection. It fails with ServerUnreachable when the
// companion exits first or the start timeout elapses.
//
// A port that is already accepting connections fails at once, without
// spawning and without waiting out the start timeout: the companion could
// not bind it, and a port check cannot tell a squatter from a companion.
//
// A process that exits before binding, or is killed as unreachable, is
// dropped from the tracked set.
//
// The companion is not tied to ctx: cancelling ctx abandons the wait and
// returns ctx.Err() while the process keeps running. A companion that never
// binds is left running unless killOnUnreachable is set; Stop or Shutdown
// reap it.
func (s *Supervisor) StartProcess(ctx context.Context, rootDir, host string, port int) (*Process, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if proc := s.Process(host, port); proc != nil && proc.State() == StateBound && !proc.Exited() {
		s.logger.Debug("Companion already running", "addr", addr, "pid", proc.PID())
		return proc, nil
	}

	ch := s.group.DoChan(addr, func() (interface{}, error) {
		return s.spawn(context.WithoutCancel(ctx), rootDir, host, port)
	})

	select {
	case <-ctx.Done():
		s.logger.Info("Stopped waiting for companion", "addr", addr, "reason", ctx.Err().Error())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Process), nil
	}
}

func (s *Supervisor) spawn(ctx context.Context, rootDir, host string, port int) (*Process, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if IsPortOpen(addr, dialTimeout) {
		return nil, errors.NewError(
			errors.ServerUnreachable,
			fmt.Sprintf("%s is already in use by another process", addr),
			nil,
		).WithDetails(map[string]interface{}{"addr": addr})
	}

	name, args := s.command(rootDir, host, port)
	cmd := exec.Command(name, args...)
	cmd.Dir = paths.ServerDir(rootDir)
	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = &lineLogger{logger: s.logger, stream: "stdout", out: s.output}
	cmd.Stderr = &lineLogger{logger: s.logger, stream: "stderr", out: s.output}
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, errors.NewError(
			errors.ServerUnreachable,
			fmt.Sprintf("failed to start companion %s", name),
			err,
		)
	}

	proc := newProcess(host, port, cmd)
	go proc.reap()

	s.mu.Lock()
	s.processes[addr] = proc
	s.mu.Unlock()

	s.logger.Info("Spawned companion",
		"id", proc.ID,
		"pid", proc.PID(),
		"command", name,
		"addr", addr,
	)

	if err := s.awaitBind(ctx, proc); err != nil {
		if proc.Exited() {
			s.forget(addr, proc)
		}
		return nil, err
	}
	return proc, nil
}

// forget removes proc from the tracked set unless a newer process has
// replaced it.
func (s *Supervisor) forget(addr string, proc *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processes[addr] == proc {
		delete(s.processes, addr)
	}
}

// awaitBind polls the companion's port until it opens, the companion exits or
// the start timeout elapses.
func (s *Supervisor) awaitBind(ctx context.Context, proc *Process) error {
	timeout := s.cfg.StartTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	start := time.Now()
	err := WaitForPort(waitCtx, proc.Addr(), s.cfg.PollInterval())
	if err == nil {
		proc.setState(StateBound)
		s.logger.Info("Companion is reachable",
			"id", proc.ID,
			"addr", proc.Addr(),
			"waited", time.Since(start).Round(time.Millisecond).String(),
		)
		return nil
	}

	if proc.Exited() {
		return errors.NewError(
			errors.ServerUnreachable,
			fmt.Sprintf("companion exited before binding %s", proc.Addr()),
			proc.ExitErr(),
		)
	}

	proc.setState(StateUnreachable)
	s.logger.Warn("Companion did not bind in time",
		"id", proc.ID,
		"pid", proc.PID(),
		"addr", proc.Addr(),
		"timeout", timeout.String(),
		"kill", s.cfg.KillOnUnreachable,
	)
	if s.cfg.KillOnUnreachable {
		if terr := proc.Terminate(); terr != nil {
			s.logger.Error("Failed to terminate unreachable companion", "pid", proc.PID(), "error", terr.Error())
		}
	}

	return errors.NewError(
		errors.ServerUnreachable,
		fmt.Sprintf("%s did not accept connections within %s", proc.Addr(), timeout),
		err,
	)
}

// command returns the executable and arguments for the companion. The
// address is always appended as "host port".
func (s *Supervisor) command(rootDir, host string, port int) (string, []string) {
	name := s.cfg.Command
	if name == "" {
		name = paths.HostInterpreterPath(paths.Under(rootDir, s.installDir))
	}

	var args []string
	switch {
	case len(s.cfg.Args) > 0:
		args = append(args, s.cfg.Args...)
	case s.cfg.Entrypoint != "":
		args = append(args, paths.ScriptPath(rootDir, s.cfg.Entrypoint))
	}
	return name, append(args, host, strconv.Itoa(port))
}

// Process returns the last process started for (host, port), or nil.
func (s *Supervisor) Process(host string, port int) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[net.JoinHostPort(host, strconv.Itoa(port))]
}

// Stop terminates the companion for (host, port) and forgets it.
func (s *Supervisor) Stop(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	proc, exists := s.processes[addr]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("no companion running on %s", addr)
	}
	delete(s.processes, addr)
	s.mu.Unlock()

	s.logger.Info("Stopping companion", "id", proc.ID, "addr", addr)
	return proc.Terminate()
}

// Shutdown terminates every tracked companion.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	procs := s.processes
	s.processes = make(map[string]*Process)
	s.mu.Unlock()

	var firstErr error
	for addr, proc := range procs {
		s.logger.Info("Shutting down companion", "id", proc.ID, "addr", addr)
		if err := proc.Terminate(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthCheck dials the companion's port.
func (s *Supervisor) HealthCheck(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if IsPortOpen(addr, timeout) {
		return nil
	}

	err := errors.NewError(errors.ServerUnreachable, fmt.Sprintf("%s is not accepting connections", addr), nil)
	if proc := s.Process(host, port); proc != nil && proc.Exited() {
		return err.WithDetails(map[string]interface{}{"pid": proc.PID(), "exit": fmt.Sprint(proc.ExitErr())})
	}
	return err
}

// ProcessStats describes one tracked companion.
type ProcessStats struct {
	ID        string    `json:"id" yaml:"id"`
	PID       int       `json:"pid" yaml:"pid"`
	Addr      string    `json:"addr" yaml:"addr"`
	State     State     `json:"state" yaml:"state"`
	StartedAt time.Time `json:"startedAt" yaml:"startedAt"`
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	TotalProcesses int            `json:"totalProcesses" yaml:"totalProcesses"`
	Processes      []ProcessStats `json:"processes" yaml:"processes"`
}

// Stats returns statistics about tracked processes, ordered by address.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TotalProcesses: len(s.processes)}
	for addr, proc := range s.processes {
		stats.Processes = append(stats.Processes, ProcessStats{
			ID:        proc.ID,
			PID:       proc.PID(),
			Addr:      addr,
			State:     proc.State(),
			StartedAt: proc.StartedAt,
		})
	}
	sort.Slice(stats.Processes, func(i, j int) bool {
		return stats.Processes[i].Addr < stats.Processes[j].Addr
	})
	return stats
}

// lockedWriter serializes the stdout and stderr copiers on one writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) writeLine(stream string, line []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.w, "[%s] %s\n", stream, line)
}

// lineLogger forwards companion output to the logger one line at a time.
type lineLogger struct {
	logger *slog.Logger
	stream string
	out    *lockedWriter
	buf    []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(w.buf[:i], "\r"); len(line) > 0 {
			w.logger.Debug("Companion output", "stream", w.stream, "line", string(line))
			if w.out != nil {
				w.out.writeLine(w.stream, line)
			}
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
