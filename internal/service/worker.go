package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/k8ika0s/source-refinery/internal/buildmethod"
	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
	"github.com/k8ika0s/source-refinery/internal/install"
	"github.com/k8ika0s/source-refinery/internal/model"
	"github.com/k8ika0s/source-refinery/internal/objectstore"
	"github.com/k8ika0s/source-refinery/internal/queue"
	"github.com/k8ika0s/source-refinery/internal/rebuild"
	"github.com/k8ika0s/source-refinery/internal/reporter"
	"github.com/k8ika0s/source-refinery/internal/repository"
	"github.com/k8ika0s/source-refinery/internal/runner"
	"github.com/k8ika0s/source-refinery/internal/source"
)

// ErrBusy is returned by Drain while another drain is running.
var ErrBusy = errors.New("drain already running")

// Target is the repository rebuilt coordinates are installed into.
type Target interface {
	install.Installer
	install.Availability
}

// Worker drains the queue, rebuilds each coordinate and installs the
// results together with their missing dependencies.
type Worker struct {
	Queue        queue.Backend
	Orchestrator *rebuild.Orchestrator
	Resolver     install.Resolver
	Lineage      install.Lineage
	Target       Target
	Reporter     *reporter.Client
	Cfg          Config
	Log          *zap.Logger

	// installMu serializes writes to the target repository.
	installMu    sync.Mutex
	activeBuilds atomic.Int32
	draining     atomic.Bool
}

// Outcome is the result of processing one coordinate.
type Outcome struct {
	Result    *rebuild.Result
	Installed []coord.Coordinate
}

// BuildWorker constructs a worker from config.
func BuildWorker(ctx context.Context, cfg Config, log *zap.Logger) (*Worker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	q, err := cfg.Queue()
	if err != nil {
		return nil, err
	}
	mirror, err := cfg.ObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := cfg.Filter()
	if err != nil {
		return nil, err
	}
	r := cfg.BuildRunner()
	resolver := &repository.Resolver{
		Local:    cfg.LocalRepo,
		Remotes:  cfg.RemoteRepos,
		Username: cfg.RepoUser,
		Password: cfg.RepoPassword,
		Log:      log,
	}
	reader := model.NewRepositoryReader(resolver, log)
	orch := &rebuild.Orchestrator{
		Projects: reader,
		Graphs:   &model.TreeBuilder{Reader: reader, MaxDepth: cfg.MaxDepth, BuildPlugins: cfg.BuildPlugins, Log: log},
		Sources:  source.Default(log),
		Methods: buildmethod.NewRegistry(
			&buildmethod.Maven{Runner: r, Args: cfg.MavenArgs, Log: log},
			&buildmethod.Gradle{Runner: r, Log: log},
		),
		Filter: filter,
		Log:    log,
	}
	return &Worker{
		Queue:        q,
		Orchestrator: orch,
		Resolver:     resolver,
		Lineage:      reader,
		Target:       cfg.TargetInstaller(mirror, log),
		Reporter:     &reporter.Client{BaseURL: cfg.ControlPlaneURL, Token: cfg.ControlPlaneToken},
		Cfg:          cfg,
		Log:          log,
	}, nil
}

// Queue returns the configured backend, or nil for "none".
func (c Config) Queue() (queue.Backend, error) {
	switch c.QueueBackend {
	case "redis":
		return queue.NewRedisQueue(c.RedisURL, c.RedisKey)
	case "kafka":
		return queue.NewKafkaQueue(c.KafkaBrokers, c.KafkaTopic), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", c.QueueBackend)
}

// ObjectStore returns the mirror of the target repository, or nil when none
// is configured.
func (c Config) ObjectStore(ctx context.Context) (objectstore.Store, error) {
	if c.ObjectStoreEndpoint == "" || c.ObjectStoreBucket == "" {
		return nil, nil
	}
	store, err := objectstore.NewMinIOStore(ctx, c.ObjectStoreEndpoint, c.ObjectStoreAccess, c.ObjectStoreSecret, c.ObjectStoreBucket, "", c.ObjectStoreUseSSL)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return store, nil
}

// TargetInstaller deploys over HTTP when TargetRepo is a URL and copies
// into a directory otherwise.
func (c Config) TargetInstaller(mirror objectstore.Store, log *zap.Logger) Target {
	if strings.HasPrefix(c.TargetRepo, "http://") || strings.HasPrefix(c.TargetRepo, "https://") {
		return &repository.RemoteInstaller{BaseURL: c.TargetRepo, Username: c.RepoUser, Password: c.RepoPassword, Log: log}
	}
	return &repository.DirInstaller{Root: c.TargetRepo, Mirror: mirror, Prefix: c.ObjectStorePrefix, Log: log}
}

// Filter returns the dependency graph filter, or nil when no patterns are set.
func (c Config) Filter() (coord.Filter, error) {
	if len(c.Includes) == 0 && len(c.Excludes) == 0 {
		return nil, nil
	}
	f, err := coord.NewPatternFilter(c.Includes, c.Excludes)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return f, nil
}

// BuildRunner returns the runner build tools are invoked through.
func (c Config) BuildRunner() runner.Runner {
	timeout := time.Duration(c.BuildTimeoutSec) * time.Second
	if c.Runner == "podman" {
		return &runner.PodmanRunner{Image: c.ContainerImage, Bin: c.PodmanBin, Timeout: timeout}
	}
	return &runner.ExecRunner{Timeout: timeout}
}

func (w *Worker) log() *zap.Logger {
	if w.Log != nil {
		return w.Log
	}
	return zap.NewNop()
}

// Process rebuilds c in its own work directory and installs the outputs.
func (w *Worker) Process(ctx context.Context, c coord.Coordinate) (*Outcome, error) {
	if err := os.MkdirAll(w.Cfg.WorkRoot, 0o755); err != nil {
		return nil, err
	}
	checkout, err := os.MkdirTemp(w.Cfg.WorkRoot, "checkout-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(checkout)
	sess := &rebuild.Session{
		WorkDir:     filepath.Join(w.Cfg.WorkRoot, c.Key()),
		CheckoutDir: checkout,
		TargetRepo:  w.Cfg.TargetRepo,
		LocalRepo:   w.Cfg.LocalRepo,
	}
	res, err := w.Orchestrator.Rebuild(ctx, c, sess)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res}
	if len(res.Outputs) == 0 {
		return out, nil
	}
	out.Installed, err = w.install(ctx, res)
	return out, err
}

// install copies every coordinate of the result's graph missing from the
// target, rebuilt files first and published files otherwise.
func (w *Worker) install(ctx context.Context, res *rebuild.Result) ([]coord.Coordinate, error) {
	tree := res.Graph
	if tree == nil {
		tree = graph.New(res.Coordinate)
	}
	w.installMu.Lock()
	defer w.installMu.Unlock()
	_, toInstall := install.Prune([]*graph.Tree{tree}, install.Missing(ctx, w.Target))
	seq := &install.Sequencer{
		Resolver:  w.Resolver,
		Installer: w.Target,
		Lineage:   w.Lineage,
		Built:     res.Built(),
		Log:       w.log(),
	}
	if err := seq.Install(ctx, toInstall); err != nil {
		return nil, err
	}
	return toInstall, nil
}

// Drain pops one batch and processes it, at most Parallelism coordinates
// at a time. It returns the number of requests handled and the joined
// failures.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	if w.Queue == nil {
		return 0, nil
	}
	if !w.draining.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer w.draining.Store(false)

	reqs, err := w.Queue.Pop(ctx, w.Cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("pop: %w", err)
	}
	reqs = queue.Dedupe(reqs)
	if len(reqs) == 0 {
		return 0, nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(max(1, w.Cfg.Parallelism))
	for _, req := range reqs {
		g.Go(func() error {
			if err := w.handle(ctx, req); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(reqs), errors.Join(errs...)
}

func (w *Worker) handle(ctx context.Context, req queue.Request) error {
	start := time.Now()
	ev := reporter.Event{Coordinate: req.Coordinate, Attempt: req.Attempts + 1}
	defer func() {
		ev.DurationMS = time.Since(start).Milliseconds()
		ev.Timestamp = time.Now().Unix()
		if err := w.Reporter.PostEvent(context.WithoutCancel(ctx), ev); err != nil {
			w.log().Warn("report event", zap.String("coord", req.Coordinate), zap.Error(err))
		}
	}()

	c, err := req.Parse()
	if err != nil {
		ev.Status, ev.Error = reporter.StatusFailed, err.Error()
		return err
	}
	log := w.log().With(zap.Stringer("coord", c), zap.Int("attempt", ev.Attempt))
	w.activeBuilds.Add(1)
	out, err := w.Process(ctx, c)
	w.activeBuilds.Add(-1)
	if err != nil {
		ev.Status, ev.Error = reporter.StatusFailed, err.Error()
		content := err.Error()
		if output := buildOutput(err); output != "" {
			if summary := summarizeLog(output); summary != "" {
				ev.Error = summary
			}
			content = tailLogLines(output, 400)
		}
		log.Error("rebuild failed", zap.String("summary", ev.Error), zap.Error(err))
		if lerr := w.Reporter.PostLog(context.WithoutCancel(ctx), reporter.Log{Coordinate: c.String(), Content: content}); lerr != nil {
			log.Warn("report log", zap.Error(lerr))
		}
		if w.requeue(ctx, req) {
			ev.Status = reporter.StatusRetry
		}
		return err
	}

	res := out.Result
	ev.Origin, ev.Method = res.Origin, res.Method
	if len(res.Outputs) == 0 {
		ev.Status = reporter.StatusSkipped
		log.Info("nothing to build")
		return nil
	}
	ev.Status = reporter.StatusBuilt
	for _, o := range res.Outputs {
		ev.Outputs = append(ev.Outputs, filepath.Base(o.File))
	}
	for _, i := range out.Installed {
		ev.Installed = append(ev.Installed, i.String())
	}
	log.Info("rebuilt", zap.Int("outputs", len(res.Outputs)), zap.Int("installed", len(out.Installed)))
	return nil
}

// requeue puts req back for another attempt when the policy allows it.
func (w *Worker) requeue(ctx context.Context, req queue.Request) bool {
	if !w.Cfg.RequeueOnFailure || ctx.Err() != nil || req.Attempts+1 >= w.Cfg.MaxAttempts {
		return false
	}
	req.Attempts++
	req.EnqueuedAt = 0
	if err := w.Queue.Enqueue(ctx, req); err != nil {
		w.log().Warn("requeue failed", zap.String("coord", req.Coordinate), zap.Error(err))
		return false
	}
	return true
}

// Enqueue validates raw and queues it.
func (w *Worker) Enqueue(ctx context.Context, raw string) (coord.Coordinate, error) {
	c, err := coord.Parse(raw)
	if err != nil {
		return coord.Coordinate{}, err
	}
	if w.Queue == nil {
		return c, queue.ErrNotConfigured
	}
	return c, w.Queue.Enqueue(ctx, queue.Request{Coordinate: c.String()})
}

// ActiveBuilds reports how many coordinates are being processed.
func (w *Worker) ActiveBuilds() int { return int(w.activeBuilds.Load()) }
