package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestFakeRunner(t *testing.T) {
	r := &FakeRunner{Dur: 50 * time.Millisecond, Log: "ok"}
	dur, logContent, err := r.Run(context.Background(), Job{Name: "mvn", Command: []string{"mvn", "install"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logContent != "ok" {
		t.Fatalf("unexpected log: %s", logContent)
	}
	if len(r.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(r.Calls))
	}
	if dur != 50*time.Millisecond {
		t.Fatalf("unexpected duration: %v", dur)
	}
}

func TestFakeRunnerHookError(t *testing.T) {
	boom := errors.New("boom")
	r := &FakeRunner{Hook: func(Job) error { return boom }}
	if _, _, err := r.Run(context.Background(), Job{Name: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

func TestPodmanRunnerBuildArgs(t *testing.T) {
	r := &PodmanRunner{Image: "maven:3", Args: []string{"--network=none"}}
	job := Job{
		Name:    "build",
		Dir:     "/work/acme",
		Command: []string{"mvn", "-f", "/work/acme/pom.xml", "-Dmaven.repo.local=/repo"},
		Env:     []string{"MAVEN_OPTS=-Xmx1g"},
		Mounts:  map[string]string{"/repo": "/m2"},
	}
	args := r.buildArgs(job)
	joined := strings.Join(args, " ")
	want := []string{
		"run --rm -w /src",
		"-v /work/acme:/src",
		"-v /repo:/m2",
		"-e JOB_NAME=build",
		"-e MAVEN_OPTS=-Xmx1g",
		"--network=none maven:3 mvn -f /src/pom.xml -Dmaven.repo.local=/m2",
	}
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Fatalf("missing arg %q in %q", w, joined)
		}
	}
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	r := &ExecRunner{Env: []string{"GREETING=hi"}}
	_, out, err := r.Run(context.Background(), Job{Name: "echo", Dir: dir, Command: []string{"sh", "-c", "echo $GREETING; pwd"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "hi") || !strings.Contains(out, dir) {
		t.Fatalf("unexpected output: %q", out)
	}

	_, _, err = r.Run(context.Background(), Job{Name: "fail", Command: []string{"sh", "-c", "exit 3"}})
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("expected exit 3, got %v", err)
	}

	if _, _, err := r.Run(context.Background(), Job{Name: "empty"}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	r := &ExecRunner{Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, _, err := r.Run(context.Background(), Job{Name: "sleep", Command: []string{"sleep", "5"}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced: %v", time.Since(start))
	}
}
