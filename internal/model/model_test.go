package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
)

// poms is an in-memory descriptor repository keyed by g:a:v.
type poms struct {
	dir   string
	files map[string]string
}

func newPoms(t *testing.T, bodies map[string]string) *poms {
	t.Helper()
	p := &poms{dir: t.TempDir(), files: make(map[string]string)}
	for gav, body := range bodies {
		file := filepath.Join(p.dir, strings.ReplaceAll(gav, ":", "_")+".pom")
		require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
		p.files[gav] = file
	}
	return p
}

func (p *poms) Resolve(_ context.Context, c coord.Coordinate) (string, error) {
	if f, ok := p.files[c.Group+":"+c.Name+":"+c.Version]; ok {
		return f, nil
	}
	return "", errors.New("not found: " + c.String())
}

const parentPOM = `<project>
  <groupId>org.acme</groupId>
  <artifactId>acme-parent</artifactId>
  <version>2.0</version>
  <packaging>pom</packaging>
  <scm>
    <connection>scm:git:https://git.example.com/acme/${project.artifactId}.git</connection>
    <tag>v${project.version}</tag>
  </scm>
  <properties>
    <slf4j.version>1.7.36</slf4j.version>
    <junit.version>5.10.0</junit.version>
  </properties>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>org.slf4j</groupId>
        <artifactId>slf4j-api</artifactId>
        <version>${slf4j.version}</version>
      </dependency>
      <dependency>
        <groupId>org.acme</groupId>
        <artifactId>acme-bom</artifactId>
        <version>1</version>
        <type>pom</type>
        <scope>import</scope>
      </dependency>
    </dependencies>
  </dependencyManagement>
  <build>
    <pluginManagement>
      <plugins>
        <plugin><artifactId>maven-compiler-plugin</artifactId><version>3.11.0</version></plugin>
      </plugins>
    </pluginManagement>
  </build>
</project>`

const bomPOM = `<project>
  <groupId>org.acme</groupId>
  <artifactId>acme-bom</artifactId>
  <version>1</version>
  <packaging>pom</packaging>
  <dependencyManagement>
    <dependencies>
      <dependency><groupId>org.acme</groupId><artifactId>util</artifactId><version>4.2</version></dependency>
      <dependency><groupId>org.slf4j</groupId><artifactId>slf4j-api</artifactId><version>0.0-bom</version></dependency>
    </dependencies>
  </dependencyManagement>
</project>`

const corePOM = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <parent>
    <groupId>org.acme</groupId>
    <artifactId>acme-parent</artifactId>
    <version>2.0</version>
  </parent>
  <artifactId>core</artifactId>
  <packaging>bundle</packaging>
  <properties><slf4j.version>2.0.9</slf4j.version></properties>
  <dependencies>
    <dependency><groupId>org.slf4j</groupId><artifactId>slf4j-api</artifactId></dependency>
    <dependency><groupId>org.acme</groupId><artifactId>util</artifactId></dependency>
    <dependency>
      <groupId>org.junit.jupiter</groupId><artifactId>junit-jupiter</artifactId>
      <version>${junit.version}</version><scope>test</scope>
    </dependency>
  </dependencies>
  <build>
    <plugins><plugin><artifactId>maven-compiler-plugin</artifactId></plugin></plugins>
  </build>
</project>`

func TestReadEffectiveProject(t *testing.T) {
	repo := newPoms(t, map[string]string{
		"org.acme:acme-parent:2.0": parentPOM,
		"org.acme:acme-bom:1":      bomPOM,
		"org.acme:core:2.0":        corePOM,
	})
	r := NewRepositoryReader(repo, zaptest.NewLogger(t))
	p, err := r.Read(context.Background(), coord.New("org.acme", "core", "2.0"))
	require.NoError(t, err)

	require.Equal(t, coord.New("org.acme", "core", "2.0"), p.Coordinate)
	require.Equal(t, "bundle", p.Packaging)
	require.False(t, p.DeclaresSCM)
	require.NotNil(t, p.SCM)
	require.Equal(t, []coord.Coordinate{coord.MustParse("org.acme:acme-parent:pom:2.0")}, p.Lineage)

	versions := map[string]string{}
	scopes := map[string]string{}
	for _, d := range p.Dependencies {
		versions[d.Coordinate.ID()] = d.Coordinate.Version
		scopes[d.Coordinate.ID()] = d.Scope
	}
	want := map[string]string{
		// managed versions are interpolated where they are declared
		"org.slf4j:slf4j-api": "1.7.36",
		// managed through the imported bill of materials
		"org.acme:util":                   "4.2",
		"org.junit.jupiter:junit-jupiter": "5.10.0",
	}
	if diff := cmp.Diff(want, versions); diff != "" {
		t.Fatalf("dependency versions (-want +got):\n%s", diff)
	}
	require.Equal(t, "test", scopes["org.junit.jupiter:junit-jupiter"])
	require.Equal(t, []coord.Coordinate{coord.New("org.apache.maven.plugins", "maven-compiler-plugin", "3.11.0")}, p.BuildDependencies)

	parent, err := r.Read(context.Background(), coord.MustParse("org.acme:acme-parent:pom:2.0"))
	require.NoError(t, err)
	require.True(t, parent.DeclaresSCM)
	require.Equal(t, "scm:git:https://git.example.com/acme/acme-parent.git", parent.SCM.Connection)
	require.Equal(t, "v2.0", parent.SCM.Tag)
	require.Same(t, parent.SCM, p.SCM)

	anc, err := r.Ancestors(context.Background(), coord.New("org.acme", "core", "2.0"))
	require.NoError(t, err)
	require.Equal(t, p.Lineage, anc)
}

func TestReadMissingParentFails(t *testing.T) {
	repo := newPoms(t, map[string]string{"org.acme:core:2.0": corePOM})
	_, err := NewRepositoryReader(repo, nil).Read(context.Background(), coord.New("org.acme", "core", "2.0"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "acme-parent")
}

func TestReadCyclicParentFails(t *testing.T) {
	self := `<project><parent><groupId>x</groupId><artifactId>loop</artifactId><version>1</version></parent>
<groupId>x</groupId><artifactId>loop</artifactId><version>1</version></project>`
	repo := newPoms(t, map[string]string{"x:loop:1": self})
	_, err := NewRepositoryReader(repo, nil).Read(context.Background(), coord.New("x", "loop", "1"))
	require.ErrorIs(t, err, ErrLineageTooDeep)
}

func TestReadFileUsesRelativeParent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pom.xml"), []byte(parentPOM), 0o644))
	mod := filepath.Join(root, "core")
	require.NoError(t, os.MkdirAll(mod, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mod, "pom.xml"), []byte(corePOM), 0o644))

	repo := newPoms(t, map[string]string{"org.acme:acme-bom:1": bomPOM})
	p, err := NewRepositoryReader(repo, nil).ReadFile(context.Background(), filepath.Join(mod, "pom.xml"))
	require.NoError(t, err)
	require.Equal(t, "2.0", p.Coordinate.Version)
	require.Equal(t, filepath.Join(mod, "pom.xml"), p.File)
	require.Equal(t, "v2.0", p.SCM.Tag)
}

func TestParsePOMRejectsMissingArtifactID(t *testing.T) {
	_, err := ParsePOM(strings.NewReader("<project><groupId>x</groupId></project>"))
	require.Error(t, err)
	_, err = ParsePOM(strings.NewReader("not xml"))
	require.Error(t, err)
}

func leaf(g, a, v string, deps ...string) string {
	var b strings.Builder
	b.WriteString("<project><groupId>" + g + "</groupId><artifactId>" + a + "</artifactId><version>" + v + "</version><dependencies>")
	for _, d := range deps {
		b.WriteString(d)
	}
	b.WriteString("</dependencies></project>")
	return b.String()
}

func dep(g, a, v string, extra ...string) string {
	return "<dependency><groupId>" + g + "</groupId><artifactId>" + a + "</artifactId><version>" + v + "</version>" + strings.Join(extra, "") + "</dependency>"
}

func names(t *graph.Tree) []string {
	var out []string
	graph.Walk(t, graph.VisitorFuncs{OnVisit: func(id graph.NodeID) bool {
		out = append(out, strings.Repeat(" ", t.Depth(id))+t.Coordinate(id).Name)
		return true
	}})
	return out
}

func TestTreeBuilder(t *testing.T) {
	repo := newPoms(t, map[string]string{
		"x:app:1": leaf("x", "app", "1",
			dep("x", "a", "1", "<exclusions><exclusion><groupId>x</groupId><artifactId>banned</artifactId></exclusion></exclusions>"),
			dep("x", "b", "1"),
			dep("x", "opt", "1", "<optional>true</optional>"),
			dep("x", "tst", "1", "<scope>test</scope>"),
		),
		"x:a:1":      leaf("x", "a", "1", dep("x", "shared", "1"), dep("x", "banned", "1"), dep("x", "app", "1")),
		"x:b:1":      leaf("x", "b", "1", dep("x", "shared", "1"), dep("x", "deepopt", "1", "<optional>true</optional>")),
		"x:shared:1": leaf("x", "shared", "1", dep("x", "bottom", "1")),
		"x:bottom:1": leaf("x", "bottom", "1"),
		"x:opt:1":    leaf("x", "opt", "1"),
	})
	r := NewRepositoryReader(repo, nil)
	root, err := r.Read(context.Background(), coord.New("x", "app", "1"))
	require.NoError(t, err)

	b := &TreeBuilder{Reader: r, Log: zaptest.NewLogger(t)}
	tree, err := b.Build(context.Background(), root, nil)
	require.NoError(t, err)
	want := []string{
		"app",
		" a",
		"  shared",
		"   bottom",
		" b",
		"  shared",
		" opt",
	}
	if diff := cmp.Diff(want, names(tree)); diff != "" {
		t.Fatalf("tree (-want +got):\n%s", diff)
	}

	b.MaxDepth = 1
	tree, err = b.Build(context.Background(), root, coord.MustPatternFilter(nil, []string{"x:opt"}))
	require.NoError(t, err)
	require.Equal(t, []string{"app", " a", " b"}, names(tree))
}

func TestTreeBuilderMissingDescriptor(t *testing.T) {
	repo := newPoms(t, map[string]string{"x:app:1": leaf("x", "app", "1", dep("x", "gone", "1"))})
	r := NewRepositoryReader(repo, nil)
	root, err := r.Read(context.Background(), coord.New("x", "app", "1"))
	require.NoError(t, err)
	_, err = (&TreeBuilder{Reader: r}).Build(context.Background(), root, nil)
	require.ErrorContains(t, err, "expand x:gone:1")
}
