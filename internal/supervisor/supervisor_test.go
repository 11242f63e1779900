package supervisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"yarals/internal/config"
	"yarals/internal/errors"
	"yarals/internal/paths"
	"yarals/internal/slogutil"
)

// companionEnv switches the test binary into a fake companion.
const companionEnv = "YARALS_TEST_COMPANION"

func TestMain(m *testing.M) {
	switch os.Getenv(companionEnv) {
	case "":
		os.Exit(m.Run())
	case "listen":
		runListeningCompanion()
	case "exit":
		os.Exit(3)
	case "chatty":
		fmt.Println("loading rules")
		fmt.Fprintln(os.Stderr, "Traceback: no module named yarals")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

// runListeningCompanion binds the "host port" pair at the end of argv and
// accepts connections until killed.
func runListeningCompanion() {
	args := os.Args
	host, port := args[len(args)-2], args[len(args)-1]
	l, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		os.Exit(4)
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			os.Exit(5)
		}
		_ = conn.Close()
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func newTestSupervisor(t *testing.T, mode string, mutate func(*config.ServerConfig)) *Supervisor {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Command = os.Args[0]
	cfg.Server.Args = []string{"companion"}
	cfg.Server.Env = map[string]string{companionEnv: mode}
	cfg.Server.StartTimeoutMs = 5000
	cfg.Server.PollIntervalMs = 20
	if mutate != nil {
		mutate(&cfg.Server)
	}

	s := New(cfg, slogutil.NewDiscardLogger())
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestStartProcess_Binds(t *testing.T) {
	s := newTestSupervisor(t, "listen", nil)
	port := freePort(t)

	proc, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if err != nil {
		t.Fatalf("StartProcess() error = %v", err)
	}

	if proc.State() != StateBound {
		t.Errorf("State() = %s, want %s", proc.State(), StateBound)
	}
	if proc.PID() <= 0 {
		t.Errorf("PID() = %d", proc.PID())
	}
	if proc.ID == "" {
		t.Error("process should have an id")
	}
	if !IsPortOpen(proc.Addr(), time.Second) {
		t.Errorf("%s should accept connections", proc.Addr())
	}
	if err := s.HealthCheck(context.Background(), "127.0.0.1", port); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	// a second start for a bound address returns the same companion
	again, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if err != nil || again != proc {
		t.Errorf("second StartProcess() = %v, %v; want the running process", again, err)
	}

	if err := proc.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after Terminate")
	}
	if proc.State() != StateTerminated {
		t.Errorf("State() = %s, want %s", proc.State(), StateTerminated)
	}
	if err := s.HealthCheck(context.Background(), "127.0.0.1", port); !errors.Is(err, errors.ServerUnreachable) {
		t.Errorf("HealthCheck() after terminate = %v, want ServerUnreachable", err)
	}
}

func TestStartProcess_PortAlreadyTaken(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	s := newTestSupervisor(t, "listen", nil)

	start := time.Now()
	_, err = s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if !errors.Is(err, errors.ServerUnreachable) {
		t.Fatalf("err = %v, want ServerUnreachable", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("occupied port should fail fast, took %v", time.Since(start))
	}
	if s.Process("127.0.0.1", port) != nil {
		t.Error("nothing should have been spawned")
	}
}

func TestStartProcess_ExitBeforeBind(t *testing.T) {
	s := newTestSupervisor(t, "exit", nil)
	port := freePort(t)

	start := time.Now()
	_, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if !errors.Is(err, errors.ServerUnreachable) {
		t.Fatalf("err = %v, want ServerUnreachable", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Errorf("exit should be detected before the timeout, took %v", time.Since(start))
	}

	var exitErr *exec.ExitError
	if !stderrors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("err = %v, want to wrap exit code 3", err)
	}

	if s.Process("127.0.0.1", port) != nil {
		t.Error("a companion that exited should not stay tracked")
	}
	if stats := s.Stats(); stats.TotalProcesses != 0 || len(stats.Processes) != 0 {
		t.Errorf("Stats() = %+v, want no processes", stats)
	}
}

func TestStartProcess_ForwardsOutput(t *testing.T) {
	var out strings.Builder
	s := newTestSupervisor(t, "chatty", nil).WithOutput(&out)

	_, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", freePort(t))
	if !errors.Is(err, errors.ServerUnreachable) {
		t.Fatalf("err = %v, want ServerUnreachable", err)
	}

	for _, want := range []string{
		"[stdout] loading rules\n",
		"[stderr] Traceback: no module named yarals\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output = %q, want to contain %q", out.String(), want)
		}
	}
}

func TestStartProcess_TimeoutLeavesChildRunning(t *testing.T) {
	s := newTestSupervisor(t, "hang", func(c *config.ServerConfig) {
		c.StartTimeoutMs = 300
	})
	port := freePort(t)

	_, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if !errors.Is(err, errors.ServerUnreachable) {
		t.Fatalf("err = %v, want ServerUnreachable", err)
	}

	proc := s.Process("127.0.0.1", port)
	if proc == nil {
		t.Fatal("unreachable process should stay tracked")
	}
	if proc.State() != StateUnreachable {
		t.Errorf("State() = %s, want %s", proc.State(), StateUnreachable)
	}
	if proc.Exited() {
		t.Error("child should be left running by default")
	}

	if err := s.Stop("127.0.0.1", port); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !proc.Exited() {
		t.Error("Stop should reap the child")
	}
}

func TestStartProcess_TimeoutKillsWhenConfigured(t *testing.T) {
	s := newTestSupervisor(t, "hang", func(c *config.ServerConfig) {
		c.StartTimeoutMs = 300
		c.KillOnUnreachable = true
	})
	port := freePort(t)

	_, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if !errors.Is(err, errors.ServerUnreachable) {
		t.Fatalf("err = %v, want ServerUnreachable", err)
	}

	if s.Process("127.0.0.1", port) != nil {
		t.Error("a killed companion should not stay tracked")
	}
	if stats := s.Stats(); stats.TotalProcesses != 0 {
		t.Errorf("Stats() = %+v, want no processes", stats)
	}
}

func TestStartProcess_CancelDoesNotKill(t *testing.T) {
	s := newTestSupervisor(t, "hang", func(c *config.ServerConfig) {
		c.StartTimeoutMs = 2000
	})
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.StartProcess(ctx, t.TempDir(), "127.0.0.1", port)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancel should return promptly, took %v", time.Since(start))
	}

	var proc *Process
	deadline := time.Now().Add(time.Second)
	for proc == nil && time.Now().Before(deadline) {
		proc = s.Process("127.0.0.1", port)
		time.Sleep(10 * time.Millisecond)
	}
	if proc == nil {
		t.Fatal("spawned process should be tracked")
	}
	if proc.Exited() {
		t.Error("cancelling the wait must not kill the child")
	}
}

func TestStartProcess_ConcurrentStartsShareOneSpawn(t *testing.T) {
	s := newTestSupervisor(t, "listen", nil)
	port := freePort(t)
	root := t.TempDir()

	const callers = 4
	procs := make([]*Process, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			procs[i], errs[i] = s.StartProcess(context.Background(), root, "127.0.0.1", port)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if procs[i] != procs[0] {
			t.Errorf("caller %d got a different process", i)
		}
	}
	if stats := s.Stats(); stats.TotalProcesses != 1 {
		t.Errorf("TotalProcesses = %d, want 1", stats.TotalProcesses)
	}
}

func TestSupervisor_StatsAndShutdown(t *testing.T) {
	s := newTestSupervisor(t, "listen", nil)
	p1, p2 := freePort(t), freePort(t)

	a, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", p1)
	if err != nil {
		t.Fatalf("StartProcess(%d) error = %v", p1, err)
	}
	b, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", p2)
	if err != nil {
		t.Fatalf("StartProcess(%d) error = %v", p2, err)
	}

	stats := s.Stats()
	if stats.TotalProcesses != 2 || len(stats.Processes) != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}
	for _, ps := range stats.Processes {
		if ps.State != StateBound || ps.PID <= 0 {
			t.Errorf("process stats = %+v", ps)
		}
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !a.Exited() || !b.Exited() {
		t.Error("Shutdown should reap every companion")
	}
	if s.Stats().TotalProcesses != 0 {
		t.Error("Shutdown should forget every companion")
	}
	if err := s.Stop("127.0.0.1", p1); err == nil {
		t.Error("Stop after Shutdown should fail")
	}
}

func TestSupervisor_Stop(t *testing.T) {
	s := newTestSupervisor(t, "listen", nil)
	port := freePort(t)

	proc, err := s.StartProcess(context.Background(), t.TempDir(), "127.0.0.1", port)
	if err != nil {
		t.Fatalf("StartProcess() error = %v", err)
	}

	if err := s.Stop("127.0.0.1", port); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !proc.Exited() {
		t.Error("Stop should reap the companion")
	}
	if s.Process("127.0.0.1", port) != nil {
		t.Error("Stop should forget the companion")
	}
}

func TestSupervisor_Command(t *testing.T) {
	cfg := config.DefaultConfig()
	root := filepath.Join("/", "ext")

	name, args := New(cfg, slogutil.NewDiscardLogger()).command(root, "127.0.0.1", 8471)
	if want := paths.HostInterpreterPath(filepath.Join(root, "server", "env")); name != want {
		t.Errorf("name = %s, want %s", name, want)
	}
	want := []string{filepath.Join(root, "server", "vscode_yara.py"), "127.0.0.1", "8471"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", args, want)
	}

	cfg.Server.Command = "yara-companion"
	cfg.Server.Args = []string{"--tcp"}
	name, args = New(cfg, slogutil.NewDiscardLogger()).command(root, "localhost", 9000)
	if name != "yara-companion" {
		t.Errorf("name = %s", name)
	}
	if got := strings.Join(args, " "); got != "--tcp localhost "+strconv.Itoa(9000) {
		t.Errorf("args = %s", got)
	}
}

func TestWaitForPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()

	if err := WaitForPort(context.Background(), addr, 10*time.Millisecond); err != nil {
		t.Errorf("WaitForPort(open) = %v", err)
	}
	_ = l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := WaitForPort(ctx, addr, 10*time.Millisecond); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForPort(closed) = %v, want DeadlineExceeded", err)
	}
}

func TestLineLogger(t *testing.T) {
	var out strings.Builder
	w := &lineLogger{logger: slogutil.NewDiscardLogger(), stream: "stdout", out: &lockedWriter{w: &out}}

	n, err := w.Write([]byte("partial"))
	if err != nil || n != 7 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if _, err := w.Write([]byte(" line\r\nnext")); err != nil {
		t.Fatal(err)
	}
	if string(w.buf) != "next" {
		t.Errorf("buffered = %q, want %q", w.buf, "next")
	}
	if out.String() != "[stdout] partial line\n" {
		t.Errorf("output = %q", out.String())
	}
}
