package install

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
)

func c(name string) coord.Coordinate { return coord.New("org.acme", name, "1.0") }

// shape renders a tree as nested names for comparison.
func shape(t *graph.Tree) any {
	var walk func(id graph.NodeID) map[string]any
	walk = func(id graph.NodeID) map[string]any {
		kids := map[string]any{}
		for _, ch := range t.Children(id) {
			kids[t.Coordinate(ch).Name] = walk(ch)
		}
		return kids
	}
	return map[string]any{t.RootCoordinate().Name: walk(graph.Root)}
}

func TestPruneDepthScenario(t *testing.T) {
	tr := graph.New(c("root"))
	child := tr.AddChild(graph.Root, c("child"))
	tr.AddChild(child, c("grandchild"))

	pruned, toInstall := Prune([]*graph.Tree{tr}, graph.MinDepth(2))
	require.Len(t, pruned, 1)
	want := map[string]any{"root": map[string]any{"child": map[string]any{}}}
	if diff := cmp.Diff(want, shape(pruned[0])); diff != "" {
		t.Fatalf("pruned tree mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []coord.Coordinate{c("grandchild")}, toInstall)
}

func TestPruneRemovesWholeSubtreeAndKeepsSiblings(t *testing.T) {
	tr := graph.New(c("root"))
	a := tr.AddChild(graph.Root, c("a"))
	tr.AddChild(a, c("a1"))
	a2 := tr.AddChild(a, c("a2"))
	tr.AddChild(a2, c("a2x"))
	b := tr.AddChild(graph.Root, c("b"))
	tr.AddChild(b, c("b1"))

	pruned, toInstall := Prune([]*graph.Tree{tr}, graph.ByCoordinate(coord.NewSetFilter(c("a"))))
	want := map[string]any{"root": map[string]any{"b": map[string]any{"b1": map[string]any{}}}}
	if diff := cmp.Diff(want, shape(pruned[0])); diff != "" {
		t.Fatalf("pruned tree mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []coord.Coordinate{c("a1"), c("a2x"), c("a2"), c("a")}, toInstall)
}

func TestPruneQualifyingRootDropsTree(t *testing.T) {
	t1 := graph.New(c("one"))
	t1.AddChild(graph.Root, c("dep"))
	t2 := graph.New(c("two"))
	t2.AddChild(graph.Root, c("dep"))
	t2.AddChild(graph.Root, c("other"))

	pruned, toInstall := Prune([]*graph.Tree{t1, t2}, graph.ByCoordinate(coord.NewSetFilter(c("one"))))
	require.Len(t, pruned, 1)
	require.Equal(t, c("two"), pruned[0].RootCoordinate())
	// dep is installed through t1, so it is also pruned from t2
	require.Equal(t, []coord.Coordinate{c("dep"), c("one")}, toInstall)
	require.Equal(t, map[string]any{"two": map[string]any{"other": map[string]any{}}}, shape(pruned[0]))

	pruned, toInstall = Prune([]*graph.Tree{t1, t2}, nil)
	require.Empty(t, pruned)
	require.Equal(t, []coord.Coordinate{c("dep"), c("one"), c("other"), c("two")}, toInstall)
}

type availability map[coord.Coordinate]bool

func (a availability) Has(_ context.Context, c coord.Coordinate) (bool, error) {
	if c.Name == "broken" {
		return false, errors.New("lookup failed")
	}
	return a[c], nil
}

func TestMissingSelectsUnavailable(t *testing.T) {
	tr := graph.New(c("root"))
	present := tr.AddChild(graph.Root, c("present"))
	tr.AddChild(present, c("absent"))
	tr.AddChild(graph.Root, c("broken"))

	avail := availability{c("root"): true, c("present"): true}
	pruned, toInstall := Prune([]*graph.Tree{tr}, Missing(context.Background(), avail))
	require.Equal(t, []coord.Coordinate{c("absent"), c("broken")}, toInstall)
	require.Equal(t, map[string]any{"root": map[string]any{"present": map[string]any{}}}, shape(pruned[0]))
}

type recorder struct {
	calls   []string
	failOn  string
	parents map[coord.Coordinate][]coord.Coordinate
}

func (r *recorder) Resolve(_ context.Context, c coord.Coordinate) (string, error) {
	if c.String() == r.failOn {
		return "", errors.New("not found")
	}
	return "/remote/" + c.String(), nil
}

func (r *recorder) Install(_ context.Context, file string, c coord.Coordinate) error {
	r.calls = append(r.calls, c.String()+" <- "+file)
	return nil
}

func (r *recorder) Ancestors(_ context.Context, c coord.Coordinate) ([]coord.Coordinate, error) {
	return r.parents[c], nil
}

func TestSequencerOrdersFileAncestorsDescriptor(t *testing.T) {
	parent := coord.New("org.acme", "parent", "3")
	grand := coord.New("org.acme", "grand", "9")
	rec := &recorder{parents: map[coord.Coordinate][]coord.Coordinate{
		c("lib"): {parent, grand},
	}}
	s := &Sequencer{
		Resolver:  rec,
		Installer: rec,
		Lineage:   rec,
		Built:     map[coord.Coordinate]string{c("lib"): "/work/target/lib-1.0.jar"},
		Log:       zaptest.NewLogger(t),
	}
	require.NoError(t, s.Install(context.Background(), []coord.Coordinate{c("lib"), c("lib").Descriptor()}))
	want := []string{
		"org.acme:lib:1.0 <- /work/target/lib-1.0.jar",
		"org.acme:parent:pom:3 <- /remote/org.acme:parent:pom:3",
		"org.acme:grand:pom:9 <- /remote/org.acme:grand:pom:9",
		"org.acme:lib:pom:1.0 <- /remote/org.acme:lib:pom:1.0",
		// a descriptor coordinate has no separate file step
		"org.acme:lib:pom:1.0 <- /remote/org.acme:lib:pom:1.0",
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Fatalf("install order mismatch (-want +got):\n%s", diff)
	}
}

func TestSequencerAbortsOnFirstFailure(t *testing.T) {
	parent := coord.New("org.acme", "parent", "3")
	rec := &recorder{
		failOn:  "org.acme:parent:pom:3",
		parents: map[coord.Coordinate][]coord.Coordinate{c("a"): {parent}, c("b"): nil},
	}
	s := &Sequencer{Resolver: rec, Installer: rec, Lineage: rec}
	err := s.Install(context.Background(), []coord.Coordinate{c("a"), c("b")})
	require.ErrorIs(t, err, ErrResolution)
	var ie *Error
	require.ErrorAs(t, err, &ie)
	require.Equal(t, c("a"), ie.Coord)
	require.Equal(t, StepAncestor, ie.Step)
	require.Equal(t, parent.Descriptor(), ie.Target)
	require.Equal(t, []string{"org.acme:a:1.0 <- /remote/org.acme:a:1.0"}, rec.calls)
}
