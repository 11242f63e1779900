package supervisor

import (
	"archive/tar"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"yarals/internal/config"
	"yarals/internal/errors"
	"yarals/internal/paths"
	"yarals/internal/slogutil"
)

// fakeRunner emulates python3 -m venv and pip without touching the system.
type fakeRunner struct {
	mu sync.Mutex

	lookErr error
	venvErr error
	// skipInterpreter makes venv leave out the interpreter
	skipInterpreter bool

	calls []string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.lookErr != nil {
		return "", f.lookErr
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))

	if len(args) >= 3 && args[0] == "-m" && args[1] == "venv" {
		if f.venvErr != nil {
			return []byte("venv: error"), f.venvErr
		}
		target := args[2]
		if err := os.MkdirAll(target, 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(target, paths.VenvMarker), []byte("home = /usr/bin\n"), 0644); err != nil {
			return nil, err
		}
		if !f.skipInterpreter {
			python := paths.HostInterpreterPath(target)
			if err := os.MkdirAll(filepath.Dir(python), 0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(python, []byte("#!/bin/sh\n"), 0755); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (f *fakeRunner) count(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}

func newTestInstaller(runner Runner, mutate func(*config.InstallConfig)) *Installer {
	cfg := config.DefaultConfig().Install
	if mutate != nil {
		mutate(&cfg)
	}
	return NewInstaller(cfg, runner, slogutil.NewDiscardLogger())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIsInstalled(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  bool
	}{
		{"missing directory", nil, false},
		{"empty directory", []string{}, false},
		{"marker only", []string{paths.VenvMarker}, false},
		{"interpreter only", []string{"bin/python", "Scripts/python.exe"}, false},
		{"complete", []string{paths.VenvMarker, "bin/python", "Scripts/python.exe"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "env")
			if tt.files != nil {
				if err := os.MkdirAll(target, 0755); err != nil {
					t.Fatal(err)
				}
			}
			for _, f := range tt.files {
				writeFile(t, filepath.Join(target, filepath.FromSlash(f)), "")
			}

			if got := IsInstalled(target); got != tt.want {
				t.Errorf("IsInstalled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsInstalled_PlatformLayout(t *testing.T) {
	target := t.TempDir()
	writeFile(t, filepath.Join(target, paths.VenvMarker), "")
	writeFile(t, filepath.Join(target, "Scripts", "python.exe"), "")

	if !isInstalledFor(target, "windows") {
		t.Error("windows layout should be installed")
	}
	if isInstalledFor(target, "linux") {
		t.Error("linux needs bin/python")
	}
}

func TestEnsureInstalled_CreatesVenv(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "server", "env")
	writeFile(t, filepath.Join(root, "server", "requirements.txt"), "pygls\n")

	runner := &fakeRunner{}
	inst := newTestInstaller(runner, nil)

	if !inst.EnsureInstalled(context.Background(), root, target) {
		t.Fatal("EnsureInstalled() = false")
	}
	if !IsInstalled(target) {
		t.Error("environment should be installed")
	}
	if runner.count("-m venv") != 1 {
		t.Errorf("venv calls = %d, want 1", runner.count("-m venv"))
	}
	if runner.count("-m pip install -r") != 1 {
		t.Errorf("pip calls = %d, want 1", runner.count("-m pip install -r"))
	}

	m, err := ReadManifest(target)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if m.Method != MethodVenv || m.BaseRuntime != "/usr/bin/python3" {
		t.Errorf("manifest = %+v", m)
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		t.Errorf("manifest id %q is not a uuid: %v", m.ID, err)
	}
	if m.InstalledAt.IsZero() {
		t.Error("manifest should record the install time")
	}
}

func TestEnsureInstalled_Idempotent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "env")
	runner := &fakeRunner{}
	inst := newTestInstaller(runner, nil)

	for i := 0; i < 3; i++ {
		if !inst.EnsureInstalled(context.Background(), root, target) {
			t.Fatalf("call %d: EnsureInstalled() = false", i)
		}
	}
	if got := runner.count("-m venv"); got != 1 {
		t.Errorf("venv calls = %d, want 1", got)
	}
	if got := runner.count("pip"); got != 0 {
		t.Errorf("pip calls = %d, want 0 without a requirements file", got)
	}
}

func TestEnsureInstalled_RepairsPartialDirectory(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "env")
	writeFile(t, filepath.Join(target, paths.VenvMarker), "")
	writeFile(t, filepath.Join(target, "lib", "stale.txt"), "left over")

	runner := &fakeRunner{}
	inst := newTestInstaller(runner, nil)

	if !inst.EnsureInstalled(context.Background(), root, target) {
		t.Fatal("EnsureInstalled() = false")
	}
	if runner.count("-m venv") != 1 {
		t.Error("a partial directory should be rebuilt")
	}
	if _, err := os.Stat(filepath.Join(target, "lib", "stale.txt")); !os.IsNotExist(err) {
		t.Error("partial directory contents should be removed before reinstalling")
	}
}

func TestInstall_Failures(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{"missing base runtime", &fakeRunner{lookErr: stderrors.New("executable file not found in $PATH")}},
		{"venv fails", &fakeRunner{venvErr: stderrors.New("exit status 1")}},
		{"incomplete layout", &fakeRunner{skipInterpreter: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			target := filepath.Join(root, "env")
			inst := newTestInstaller(tt.runner, nil)

			err := inst.Install(context.Background(), root, target)
			if !errors.Is(err, errors.InstallationFailed) {
				t.Fatalf("Install() = %v, want InstallationFailed", err)
			}
			if inst.EnsureInstalled(context.Background(), root, target) {
				t.Error("EnsureInstalled() should report false")
			}
			if IsInstalled(target) {
				t.Error("target should not be installed")
			}
		})
	}
}

func TestEnsureInstalled_ConcurrentCallersShareOneInstall(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "env")
	runner := &fakeRunner{}
	inst := newTestInstaller(runner, nil)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = inst.EnsureInstalled(context.Background(), root, target+string(filepath.Separator))
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Errorf("caller %d: EnsureInstalled() = false", i)
		}
	}
	if got := runner.count("-m venv"); got != 1 {
		t.Errorf("venv calls = %d, want 1", got)
	}
}

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func venvEntries() []tarEntry {
	python := "bin/python"
	if runtime.GOOS == "windows" {
		python = "Scripts/python.exe"
	}
	return []tarEntry{
		{name: "bin/", typeflag: tar.TypeDir},
		{name: paths.VenvMarker, body: "home = /opt/python\n"},
		{name: python, body: "binary"},
		{name: "lib/site.py", body: "# site"},
	}
}

func writeTar(t *testing.T, w io.Writer, entries []tarEntry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0755, Typeflag: e.typeflag, Linkname: e.linkname}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeBundle(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	var buf bytes.Buffer

	switch {
	case strings.HasSuffix(path, ".tar.zst"):
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		writeTar(t, zw, entries)
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
	default:
		zw := gzip.NewWriter(&buf)
		writeTar(t, zw, entries)
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
	}

	writeFile(t, path, buf.String())
}

func TestEnsureInstalled_FromBundle(t *testing.T) {
	for _, name := range []string{"env.tar.zst", "env.tgz"} {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			target := filepath.Join(root, "server", "env")
			writeBundle(t, filepath.Join(root, "server", name), venvEntries())

			runner := &fakeRunner{}
			inst := newTestInstaller(runner, func(c *config.InstallConfig) {
				c.Bundle = filepath.Join("server", name)
			})

			if !inst.EnsureInstalled(context.Background(), root, target) {
				t.Fatal("EnsureInstalled() = false")
			}
			if len(runner.calls) != 0 {
				t.Errorf("bundle install should not run commands: %v", runner.calls)
			}
			data, err := os.ReadFile(filepath.Join(target, "lib", "site.py"))
			if err != nil || string(data) != "# site" {
				t.Errorf("lib/site.py = %q, %v", data, err)
			}

			m, err := ReadManifest(target)
			if err != nil {
				t.Fatalf("ReadManifest() error = %v", err)
			}
			if m.Method != MethodBundle {
				t.Errorf("Method = %q, want %q", m.Method, MethodBundle)
			}
		})
	}
}

func TestEnsureInstalled_MissingBundleFallsBackToVenv(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	inst := newTestInstaller(runner, func(c *config.InstallConfig) {
		c.Bundle = "server/env.tar.zst"
	})

	if !inst.EnsureInstalled(context.Background(), root, filepath.Join(root, "env")) {
		t.Fatal("EnsureInstalled() = false")
	}
	if runner.count("-m venv") != 1 {
		t.Error("missing bundle should fall back to venv")
	}
}

func TestExtractBundle_RejectsEscapes(t *testing.T) {
	tests := []struct {
		name  string
		entry tarEntry
	}{
		{"parent traversal", tarEntry{name: "../evil.txt", body: "x"}},
		{"nested traversal", tarEntry{name: "lib/../../evil.txt", body: "x"}},
		{"absolute symlink", tarEntry{name: "bin/python3", typeflag: tar.TypeSymlink, linkname: "/usr/bin/python3"}},
		{"escaping symlink", tarEntry{name: "bin/python3", typeflag: tar.TypeSymlink, linkname: "../../outside"}},
		{"hard link", tarEntry{name: "bin/python3", typeflag: tar.TypeLink, linkname: "bin/python"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			bundle := filepath.Join(dir, "env.tar.gz")
			writeBundle(t, bundle, append(venvEntries(), tt.entry))

			target := filepath.Join(dir, "out", "env")
			if err := ExtractBundle(bundle, target); err == nil {
				t.Fatal("ExtractBundle() should reject the entry")
			}
			if _, err := os.Stat(filepath.Join(dir, "out", "evil.txt")); !os.IsNotExist(err) {
				t.Error("escaping entry was written")
			}
		})
	}
}

func TestExtractBundle_RejectsSymlinkChains(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{"link through link", []tarEntry{
			{name: "d/", typeflag: tar.TypeDir},
			{name: "d/up", typeflag: tar.TypeSymlink, linkname: ".."},
			{name: "d/up2", typeflag: tar.TypeSymlink, linkname: "up/.."},
			{name: "d/up2/evil.txt", body: "x"},
		}},
		{"file under chained link", []tarEntry{
			{name: "d/", typeflag: tar.TypeDir},
			{name: "d/up", typeflag: tar.TypeSymlink, linkname: ".."},
			{name: "d/up/up", typeflag: tar.TypeSymlink, linkname: ".."},
			{name: "d/up/up/evil.txt", body: "x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			bundle := filepath.Join(dir, "env.tar.gz")
			writeBundle(t, bundle, append(venvEntries(), tt.entries...))

			target := filepath.Join(dir, "out", "env")
			if err := ExtractBundle(bundle, target); err == nil {
				t.Fatal("ExtractBundle() should reject the chain")
			}
			for _, p := range []string{filepath.Join(dir, "out", "evil.txt"), filepath.Join(dir, "evil.txt")} {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("%s was written outside the target", p)
				}
			}
		})
	}
}

func TestExtractBundle_InternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	bundle := filepath.Join(dir, "env.tar.zst")
	writeBundle(t, bundle, append(venvEntries(), tarEntry{name: "bin/python3", typeflag: tar.TypeSymlink, linkname: "python"}))

	target := filepath.Join(dir, "env")
	if err := ExtractBundle(bundle, target); err != nil {
		t.Fatalf("ExtractBundle() error = %v", err)
	}
	link, err := os.Readlink(filepath.Join(target, "bin", "python3"))
	if err != nil || link != "python" {
		t.Errorf("Readlink = %q, %v", link, err)
	}
}

func TestExtractBundle_Unsupported(t *testing.T) {
	if IsBundle("env.zip") {
		t.Error("zip is not a supported bundle")
	}
	if !IsBundle("ENV.TAR.ZST") || !IsBundle("env.tgz") {
		t.Error("extension match should be case-insensitive")
	}
	if err := ExtractBundle(filepath.Join(t.TempDir(), "env.zip"), t.TempDir()); err == nil {
		t.Error("ExtractBundle(zip) should fail")
	}
}
