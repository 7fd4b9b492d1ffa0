// Command refinery rebuilds published JVM packages from upstream source.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/logging"
	"github.com/k8ika0s/source-refinery/internal/service"
)

// ExitError carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

const usage = `refinery - rebuild published packages from upstream source.

Usage:
  refinery rebuild [options] <group:name[:type[:classifier]]:version>...
  refinery serve

Configuration is read from the file named by REFINERY_CONFIG and from the
environment; rebuild options override both.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return &ExitError{Code: 2}
	}
	switch args[0] {
	case "rebuild":
		return rebuildCmd(ctx, out, args[1:])
	case "serve":
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck
		return service.Run(ctx, cfg, log)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", args[0])}
}

func setup() (service.Config, *zap.Logger, error) {
	cfg, err := service.LoadConfig()
	if err != nil {
		return cfg, nil, &ExitError{Code: 2, Message: err.Error()}
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return cfg, nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, log, nil
}

func rebuildCmd(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	fs.SetOutput(out)
	target := fs.String("target", "", "Target repository directory (default from config).")
	work := fs.String("work", "", "Work root for working copies (default from config).")
	local := fs.String("local", "", "Local repository cache handed to build tools.")
	remotes := fs.String("remote", "", "Comma separated remote repository URLs.")
	podman := fs.Bool("podman", false, "Run build tools in a podman container.")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return &ExitError{Code: 2, Message: "no coordinates given"}
	}
	coords := make([]coord.Coordinate, 0, fs.NArg())
	for _, raw := range fs.Args() {
		c, err := coord.Parse(raw)
		if err != nil {
			return &ExitError{Code: 2, Message: err.Error()}
		}
		coords = append(coords, c)
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	cfg.QueueBackend = "none"
	if *target != "" {
		cfg.TargetRepo = *target
	}
	if *work != "" {
		cfg.WorkRoot = *work
	}
	if *local != "" {
		cfg.LocalRepo = *local
	}
	if *remotes != "" {
		cfg.RemoteRepos = strings.Split(*remotes, ",")
	}
	if *podman {
		cfg.Runner = "podman"
	}
	w, err := service.BuildWorker(ctx, cfg, log)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range coords {
		outcome, err := w.Process(ctx, c)
		if err != nil {
			fmt.Fprintf(out, "%s\tfailed\t%v\n", c, err)
			errs = append(errs, err)
			continue
		}
		res := outcome.Result
		if len(res.Outputs) == 0 {
			fmt.Fprintf(out, "%s\tnothing to build\n", c)
			continue
		}
		fmt.Fprintf(out, "%s\tbuilt from %s with %s\n", c, res.Origin, res.Method)
		for _, o := range res.Outputs {
			fmt.Fprintf(out, "  built %s\t%s\n", o.Coordinate, o.File)
		}
		for _, i := range outcome.Installed {
			fmt.Fprintf(out, "  installed %s\n", i)
		}
	}
	return errors.Join(errs...)
}
