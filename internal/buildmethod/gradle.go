package buildmethod

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/runner"
)

var gradleMarkers = []string{"build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts"}

// Gradle builds trees with Gradle build scripts. Gradle scripts cannot be
// read statically, so CanBuild always answers Unknown.
type Gradle struct {
	Runner runner.Runner
	Bin    string
	Args   []string
	Log    *zap.Logger
}

func (g *Gradle) Name() string { return "gradle" }

func (g *Gradle) Priority(dir string) int {
	for _, f := range gradleMarkers {
		if exists(filepath.Join(dir, f)) {
			return 200
		}
	}
	return -1
}

func (g *Gradle) CanBuild(string, coord.Coordinate) Capability { return Unknown }

func (g *Gradle) bin(dir string) string {
	if g.Bin != "" {
		return g.Bin
	}
	if exists(filepath.Join(dir, "gradlew")) {
		return "./gradlew"
	}
	return "gradle"
}

// Build publishes the tree to localRepo and returns the jar matching c from
// any build/libs directory.
func (g *Gradle) Build(ctx context.Context, dir string, c coord.Coordinate, localRepo string) (Output, error) {
	cmd := []string{g.bin(dir), "--no-daemon", "--console=plain"}
	if localRepo != "" {
		cmd = append(cmd, "-Dmaven.repo.local="+localRepo)
	}
	cmd = append(cmd, g.Args...)
	cmd = append(cmd, "publishToMavenLocal", "-x", "test")
	job := runner.Job{Name: "gradle " + c.String(), Dir: dir, Command: cmd}
	if localRepo != "" {
		job.Mounts = map[string]string{localRepo: localRepoMount}
	}
	_, out, err := g.Runner.Run(ctx, job)
	if err != nil {
		if g.Log != nil {
			g.Log.Error("gradle build failed", zap.Stringer("coord", c), zap.String("output", tail(out, 40)), zap.Error(err))
		}
		return Output{Coordinate: c}, &Failure{Tool: "gradle", Coordinate: c, Output: out, Err: err}
	}
	file := findLib(dir, c)
	if file == "" {
		file = installed(localRepo, c)
	}
	return Output{Coordinate: c, File: file}, nil
}

// findLib searches build/libs directories for <name>-<version>[-classifier].<ext>.
func findLib(dir string, c coord.Coordinate) string {
	want := c.Name + "-" + c.Version
	if c.Classifier != "" {
		want += "-" + c.Classifier
	}
	want += "." + c.Ext()
	var found string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && (d.Name() == ".git" || d.Name() == ".gradle" || d.Name() == "node_modules") {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == want && strings.HasSuffix(filepath.ToSlash(filepath.Dir(p)), "build/libs") {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
