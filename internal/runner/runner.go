package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Job describes one external build-tool invocation.
type Job struct {
	Name    string
	Dir     string
	Command []string
	Env     []string
	// Mounts maps host paths to container paths. Only container runners use it;
	// ExecRunner runs in place.
	Mounts map[string]string
}

// Runner executes build jobs.
type Runner interface {
	Run(ctx context.Context, job Job) (duration time.Duration, logContent string, err error)
}

// ExecRunner runs jobs as local processes.
type ExecRunner struct {
	Timeout time.Duration
	// Env is appended to the process environment before the job's own Env.
	Env []string
}

func (e *ExecRunner) Run(ctx context.Context, job Job) (time.Duration, string, error) {
	start := time.Now()
	if len(job.Command) == 0 {
		return 0, "", fmt.Errorf("job %s: empty command", job.Name)
	}
	runCtx, cancel := withTimeout(ctx, e.Timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, job.Command[0], job.Command[1:]...)
	cmd.Dir = job.Dir
	cmd.Env = append(append(os.Environ(), e.Env...), job.Env...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return time.Since(start), string(output), fmt.Errorf("%s failed: %w", job.Name, err)
	}
	return time.Since(start), string(output), nil
}

// PodmanRunner runs jobs in a podman container with the job directory
// mounted at Workdir.
type PodmanRunner struct {
	Image   string
	Bin     string
	Workdir string
	Timeout time.Duration
	// Extra arguments placed before the image, e.g. --network=none.
	Args []string
}

func (p *PodmanRunner) Run(ctx context.Context, job Job) (time.Duration, string, error) {
	start := time.Now()
	if len(job.Command) == 0 {
		return 0, "", fmt.Errorf("job %s: empty command", job.Name)
	}
	runCtx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()
	execCmd := exec.CommandContext(runCtx, p.bin(), p.buildArgs(job)...)
	output, err := execCmd.CombinedOutput()
	if err != nil {
		return time.Since(start), string(output), fmt.Errorf("podman run %s failed: %w", job.Name, err)
	}
	return time.Since(start), string(output), nil
}

func (p *PodmanRunner) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "podman"
}

func (p *PodmanRunner) image() string {
	if p.Image != "" {
		return p.Image
	}
	return "docker.io/library/maven:3-eclipse-temurin-21"
}

func (p *PodmanRunner) workdir() string {
	if p.Workdir != "" {
		return p.Workdir
	}
	return "/src"
}

// buildArgs assembles the podman arguments with mounts, env, image, and command.
func (p *PodmanRunner) buildArgs(job Job) []string {
	args := []string{"run", "--rm", "-w", p.workdir()}
	if job.Dir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s", job.Dir, p.workdir()))
	}
	hosts := make([]string, 0, len(job.Mounts))
	for h := range job.Mounts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		args = append(args, "-v", fmt.Sprintf("%s:%s", h, job.Mounts[h]))
	}
	args = append(args, "-e", fmt.Sprintf("JOB_NAME=%s", job.Name))
	for _, kv := range job.Env {
		args = append(args, "-e", kv)
	}
	args = append(args, p.Args...)
	args = append(args, p.image())
	return append(args, p.containerCommand(job)...)
}

// containerCommand rewrites host paths in the command to their mount points.
func (p *PodmanRunner) containerCommand(job Job) []string {
	pairs := make([]string, 0, 2*(len(job.Mounts)+1))
	if job.Dir != "" {
		pairs = append(pairs, job.Dir, p.workdir())
	}
	for h, c := range job.Mounts {
		pairs = append(pairs, h, c)
	}
	if len(pairs) == 0 {
		return job.Command
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(job.Command))
	for i, a := range job.Command {
		out[i] = r.Replace(a)
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// FakeRunner is used in tests. Hook, when set, runs inside Run and may
// produce files in job.Dir.
type FakeRunner struct {
	mu    sync.Mutex
	Calls []Job
	Err   error
	Dur   time.Duration
	Log   string
	Hook  func(Job) error
}

func (f *FakeRunner) Run(ctx context.Context, job Job) (time.Duration, string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, job)
	f.mu.Unlock()
	if f.Hook != nil {
		if err := f.Hook(job); err != nil {
			return f.Dur, f.Log, err
		}
	}
	return f.Dur, f.Log, f.Err
}
