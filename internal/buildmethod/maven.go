package buildmethod

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/model"
	"github.com/k8ika0s/source-refinery/internal/runner"
)

var skipDirs = map[string]bool{".git": true, "target": true, "node_modules": true, ".mvn": true, ".gradle": true}

// Maven builds trees with a pom.xml at the root.
type Maven struct {
	Runner runner.Runner
	// Bin defaults to ./mvnw when the tree carries a wrapper, else mvn.
	Bin  string
	Args []string
	Log  *zap.Logger
}

func (m *Maven) Name() string { return "maven" }

func (m *Maven) Priority(dir string) int {
	if exists(filepath.Join(dir, "pom.xml")) {
		return 100
	}
	return -1
}

func (m *Maven) log() *zap.Logger {
	if m.Log != nil {
		return m.Log
	}
	return zap.NewNop()
}

type descriptor struct {
	file string
	pom  *model.POM
}

// descriptors reads every pom.xml under dir. Unreadable files are logged
// and skipped; the count of skipped files is returned.
func (m *Maven) descriptors(dir string) ([]descriptor, int) {
	var out []descriptor
	skipped := 0
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != "pom.xml" {
			return nil
		}
		pom, err := model.ParsePOMFile(p)
		if err != nil {
			skipped++
			m.log().Warn("skipping unreadable descriptor", zap.String("file", p), zap.Error(err))
			return nil
		}
		out = append(out, descriptor{file: p, pom: pom})
		return nil
	})
	return out, skipped
}

// find returns the descriptor declaring c, how sure the match is, and the
// number of unreadable descriptors.
func (m *Maven) find(dir string, c coord.Coordinate) (descriptor, Capability, int) {
	ds, skipped := m.descriptors(dir)
	var partial *descriptor
	for i := range ds {
		dc := ds[i].pom.Coordinate()
		if dc.Group != c.Group || dc.Name != c.Name {
			continue
		}
		if dc.Version == c.Version {
			return ds[i], Yes, skipped
		}
		if strings.Contains(dc.Version, "${") && partial == nil {
			partial = &ds[i]
		}
	}
	if partial != nil {
		return *partial, Unknown, skipped
	}
	return descriptor{}, No, skipped
}

// CanBuild is Yes when a descriptor in the tree declares c, Unknown when one
// matches but its version is computed or some descriptors were unreadable.
func (m *Maven) CanBuild(dir string, c coord.Coordinate) Capability {
	_, capability, skipped := m.find(dir, c)
	if capability == No && skipped > 0 {
		return Unknown
	}
	return capability
}

func (m *Maven) bin(dir string) string {
	if m.Bin != "" {
		return m.Bin
	}
	if exists(filepath.Join(dir, "mvnw")) {
		return "./mvnw"
	}
	return "mvn"
}

// Build installs the module declaring c (the root project when none does)
// into localRepo and returns the module's main artifact.
func (m *Maven) Build(ctx context.Context, dir string, c coord.Coordinate, localRepo string) (Output, error) {
	d, _, _ := m.find(dir, c)
	pomFile := d.file
	if pomFile == "" {
		pomFile = filepath.Join(dir, "pom.xml")
	}
	cmd := []string{m.bin(dir), "-B", "-f", pomFile}
	if localRepo != "" {
		cmd = append(cmd, "-Dmaven.repo.local="+localRepo)
	}
	cmd = append(cmd, "-DskipTests", "-Dmaven.test.skip=true")
	cmd = append(cmd, m.Args...)
	cmd = append(cmd, "install")
	job := runner.Job{Name: "mvn " + c.String(), Dir: dir, Command: cmd}
	if localRepo != "" {
		job.Mounts = map[string]string{localRepo: localRepoMount}
	}
	dur, out, err := m.Runner.Run(ctx, job)
	if err != nil {
		m.log().Error("maven build failed", zap.Stringer("coord", c), zap.String("output", tail(out, 40)), zap.Error(err))
		return Output{Coordinate: c}, &Failure{Tool: "maven", Coordinate: c, Output: out, Err: err}
	}
	m.log().Info("maven build finished", zap.Stringer("coord", c), zap.Duration("duration", dur))
	return Output{Coordinate: c, File: m.artifact(d, pomFile, c, localRepo)}, nil
}

// artifact locates the built file for c: the descriptor itself for pom
// packaging, else target/<name>-<version>[-classifier].<ext>, else the copy
// the build installed into localRepo.
func (m *Maven) artifact(d descriptor, pomFile string, c coord.Coordinate, localRepo string) string {
	if c.IsDescriptor() || (d.pom != nil && d.pom.Packaging == "pom") {
		return pomFile
	}
	name := c.Name + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	p := filepath.Join(filepath.Dir(pomFile), "target", name+"."+c.Ext())
	if exists(p) {
		return p
	}
	return installed(localRepo, c)
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
