package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/camrelay/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func shSpec(name, script string) Spec {
	return Spec{Name: name, Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestStartAliveAndGracefulStop(t *testing.T) {
	requireUnix(t)
	p, err := Start(shSpec("sleeper", "sleep 5"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	st := p.Snapshot()
	if !st.Running || st.PID <= 0 || st.Name != "sleeper" {
		t.Fatalf("status not set after start: %+v", st)
	}
	if !p.Alive() {
		t.Fatalf("expected alive after start")
	}
	begin := time.Now()
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatalf("graceful stop took too long: %v", time.Since(begin))
	}
	if p.Alive() {
		t.Fatalf("expected not alive after stop")
	}
	if !p.StopRequested() {
		t.Fatalf("stop request not recorded")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	p, err := Start(shSpec("stubborn", `trap "" TERM; while true; do sleep 0.05; done`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// give the shell time to install the trap
	time.Sleep(100 * time.Millisecond)
	err = p.Stop(150 * time.Millisecond)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	if p.Alive() {
		t.Fatalf("process survived SIGKILL escalation")
	}
}

func TestExitCapturesStderr(t *testing.T) {
	requireUnix(t)
	p, err := Start(shSpec("failing", "echo 'Input/output error' >&2; echo second >&2; exit 3"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("process did not exit")
	}
	if p.Alive() {
		t.Fatalf("expected exited process to be reported dead")
	}
	st := p.Snapshot()
	if st.ExitErr == nil || !strings.Contains(st.Exit, "exit status 3") {
		t.Fatalf("unexpected exit status: %+v", st)
	}
	out := p.Stderr(0)
	if !strings.Contains(out, "Input/output error") || !strings.Contains(out, "second") {
		t.Fatalf("stderr not captured: %q", out)
	}
	if got := p.Stderr(1); got != "second" {
		t.Fatalf("Stderr(1) = %q", got)
	}
}

func TestStopOnExitedProcessIsNoop(t *testing.T) {
	requireUnix(t)
	p, err := Start(shSpec("quick", "exit 0"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Wait(3 * time.Second) {
		t.Fatalf("process did not exit")
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("stop on exited process: %v", err)
	}
}

func TestUnstartedHandle(t *testing.T) {
	p := New(Spec{Name: "idle", Path: "/bin/true"})
	if p.Alive() {
		t.Fatalf("unstarted handle must not be alive")
	}
	if p.Done() != nil {
		t.Fatalf("unstarted handle must have nil Done channel")
	}
	if err := p.Stop(time.Millisecond); err != nil {
		t.Fatalf("stop on unstarted: %v", err)
	}
	if err := p.Kill(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("kill on unstarted: %v", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(Spec{Name: "ghost", Path: filepath.Join(t.TempDir(), "does-not-exist")})
	if err == nil {
		t.Fatalf("expected start error for missing binary")
	}
}

func TestStartTwiceRejected(t *testing.T) {
	requireUnix(t)
	p, err := Start(shSpec("once", "sleep 1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = p.Kill() }()
	if err := p.Start(); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestOutputGoesToLogFiles(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	spec := shSpec("relay", "echo out; echo err >&2")
	spec.WorkDir = dir
	spec.Log = logger.FileConfig{Dir: filepath.Join(dir, "logs")}
	p, err := Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Wait(3 * time.Second) {
		t.Fatalf("process did not exit")
	}
	b, err := os.ReadFile(filepath.Join(dir, "logs", "relay.stderr.log"))
	if err != nil || !strings.Contains(string(b), "err") {
		t.Fatalf("stderr log: %v %q", err, string(b))
	}
	b, err = os.ReadFile(filepath.Join(dir, "logs", "relay.stdout.log"))
	if err != nil || !strings.Contains(string(b), "out") {
		t.Fatalf("stdout log: %v %q", err, string(b))
	}
	if !strings.Contains(p.Stderr(0), "err") {
		t.Fatalf("ring must still capture stderr when tee'd to file")
	}
}

func TestKillReaps(t *testing.T) {
	requireUnix(t)
	p, err := Start(shSpec("victim", "sleep 5"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if p.Alive() {
		t.Fatalf("expected dead after kill")
	}
}

func TestCommandLineQuotesArgs(t *testing.T) {
	s := Spec{Path: "ffmpeg", Args: []string{"-i", "FaceTime HD Camera:none", "-g", "30"}}
	got := s.CommandLine()
	want := `ffmpeg -i "FaceTime HD Camera:none" -g 30`
	if got != want {
		t.Fatalf("CommandLine() = %q, want %q", got, want)
	}
}
