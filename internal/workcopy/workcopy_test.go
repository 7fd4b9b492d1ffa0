package workcopy

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

// listFiles returns every file under dir except .git, in slash form.
func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(dir, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func commitAll(t *testing.T, repo *git.Repository, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	h, err := wt.Commit(msg, &git.CommitOptions{Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Now()}})
	require.NoError(t, err)
	return h
}

func history(t *testing.T, dir, branch string) []*object.Commit {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	require.NoError(t, err)
	var out []*object.Commit
	require.NoError(t, iter.ForEach(func(c *object.Commit) error {
		out = append(out, c)
		return nil
	}))
	return out
}

func treeFiles(t *testing.T, c *object.Commit) []string {
	t.Helper()
	files, err := c.Files()
	require.NoError(t, err)
	var out []string
	require.NoError(t, files.ForEach(func(f *object.File) error {
		out = append(out, f.Name)
		return nil
	}))
	sort.Strings(out)
	return out
}

func TestInitializeFreshTreeSanitizesInSeparateCommits(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.class": "cafebabe", "b.jar": "PK", "c.txt": "hello"})

	w := New(dir, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, w.Initialize("https://example.com/acme.git"))
	require.Equal(t, "https://example.com/acme.git", w.Origin())

	commits := history(t, dir, DefaultBranch)
	require.Len(t, commits, 3)
	require.Equal(t, []string{"c.txt"}, treeFiles(t, commits[0]))
	require.Equal(t, "Remove packaged archives", commits[0].Message)
	require.Equal(t, []string{"b.jar", "c.txt"}, treeFiles(t, commits[1]))
	require.Equal(t, "Remove prebuilt build artifacts", commits[1].Message)
	require.Equal(t, []string{"a.class", "b.jar", "c.txt"}, treeFiles(t, commits[2]))
	require.Contains(t, commits[2].Message, "https://example.com/acme.git")

	require.Equal(t, []string{"c.txt"}, listFiles(t, dir))

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	require.Equal(t, plumbing.NewBranchReferenceName(DefaultBranch), head.Name())
	master, err := repo.Reference(plumbing.Master, true)
	require.NoError(t, err)
	require.Equal(t, commits[2].Hash, master.Hash(), "original branch keeps the unsanitized import")
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"lib/x.so": "elf", "src/Main.java": "class Main {}"})

	first := New(dir)
	require.NoError(t, first.Initialize("origin"))
	h1, err := first.Head()
	require.NoError(t, err)

	require.NoError(t, first.Initialize("origin"))
	h2, err := first.Head()
	require.NoError(t, err)

	again := New(dir)
	require.NoError(t, again.Initialize("origin"))
	h3, err := again.Head()
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Equal(t, h1, h3)
	require.Len(t, history(t, dir, DefaultBranch), 2)
}

func TestInitializeWithoutPrebuiltFilesBranchesAtHead(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	writeFiles(t, dir, map[string]string{"pom.xml": "<project/>"})
	orig := commitAll(t, repo, "upstream")

	w := New(dir, WithBranch("rebuild"))
	require.NoError(t, w.Initialize("local"))
	head, err := w.Head()
	require.NoError(t, err)
	require.Equal(t, orig.String(), head)
}

func TestInitializeExistingRepoPreservesHistory(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	writeFiles(t, dir, map[string]string{"README": "v1"})
	first := commitAll(t, repo, "first")
	writeFiles(t, dir, map[string]string{"dist/tool.zip": "PK", "README": "v2"})
	second := commitAll(t, repo, "second")

	w := New(dir)
	require.NoError(t, w.Initialize("git@example.com:acme.git"))

	commits := history(t, dir, DefaultBranch)
	require.Len(t, commits, 3)
	require.Equal(t, second, commits[1].Hash)
	require.Equal(t, first, commits[2].Hash)
	require.Equal(t, []string{"README"}, listFiles(t, dir))
}

func TestInitializeLeavesReaddedFilesAlone(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"keep.txt": "x", "old.jar": "PK"})
	w := New(dir)
	require.NoError(t, w.Initialize("origin"))

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	writeFiles(t, dir, map[string]string{"new.jar": "PK"})
	commitAll(t, repo, "user adds a jar on the work branch")

	require.NoError(t, New(dir).Initialize("origin"))
	require.Equal(t, []string{"keep.txt", "new.jar"}, listFiles(t, dir))
}

func TestCleanRestoresTrackedAndDropsUntracked(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"src/A.java": "class A {}", "pom.xml": "<project/>"})
	w := New(dir)
	require.NoError(t, w.Initialize("origin"))

	writeFiles(t, dir, map[string]string{
		"src/A.java":               "modified",
		"target/classes/A.class":   "bin",
		"target/deep/nested/x.txt": "x",
		"stray.log":                "log",
	})
	require.NoError(t, os.Remove(filepath.Join(dir, "pom.xml")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("target/\n"), 0o644))

	require.NoError(t, w.Clean())
	require.Equal(t, []string{"pom.xml", "src/A.java"}, listFiles(t, dir))
	body, err := os.ReadFile(filepath.Join(dir, "src", "A.java"))
	require.NoError(t, err)
	require.Equal(t, "class A {}", string(body))
	_, err = os.Stat(filepath.Join(dir, "target"))
	require.True(t, os.IsNotExist(err))
}

func TestInitializeRejectsUnusableRepositories(t *testing.T) {
	t.Run("bare", func(t *testing.T) {
		dir := t.TempDir()
		_, err := git.PlainInit(dir, true)
		require.NoError(t, err)
		require.ErrorIs(t, New(dir).Initialize("x"), ErrBareRepository)
	})
	t.Run("no head", func(t *testing.T) {
		dir := t.TempDir()
		_, err := git.PlainInit(dir, false)
		require.NoError(t, err)
		require.ErrorIs(t, New(dir).Initialize("x"), ErrNoHead)
	})
	t.Run("uncommitted changes", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := git.PlainInit(dir, false)
		require.NoError(t, err)
		writeFiles(t, dir, map[string]string{"a.txt": "1"})
		commitAll(t, repo, "c1")
		writeFiles(t, dir, map[string]string{"a.txt": "2"})
		err = New(dir).Initialize("x")
		require.ErrorIs(t, err, ErrUncommittedChanges)
		require.Contains(t, err.Error(), "a.txt")

		head, err := repo.Head()
		require.NoError(t, err)
		require.Equal(t, plumbing.Master, head.Name())
		_, err = repo.Reference(plumbing.NewBranchReferenceName(DefaultBranch), true)
		require.ErrorIs(t, err, plumbing.ErrReferenceNotFound)
	})
}

func TestStageCopiesAndSkipsVCSMetadata(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"pom.xml": "<project/>", ".svn/entries": "svn", "mod/CVS/Root": "cvs", "mod/App.java": "x"})
	dst := filepath.Join(t.TempDir(), "work")

	w, err := Stage(src, dst, "file://"+src)
	require.NoError(t, err)
	require.True(t, Exists(dst))
	require.False(t, Exists(src))
	require.Equal(t, dst, w.Dir())
	require.Equal(t, []string{"mod/App.java", "pom.xml"}, listFiles(t, dst))
}

func TestHeadBeforeInitialize(t *testing.T) {
	_, err := New(t.TempDir()).Head()
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, New(t.TempDir()).Clean(), ErrNotInitialized)
}

func TestOpenReusesRecordedOrigin(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"pom.xml": "<project/>", "lib/a.jar": "PK"})
	first := New(dir)
	require.NoError(t, first.Initialize("https://example.com/acme.git#v1.0"))
	h1, err := first.Head()
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{"target/out.jar": "PK"})
	again, err := Open(dir, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/acme.git#v1.0", again.Origin())
	h2, err := again.Head()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Equal(t, []string{"pom.xml"}, listFiles(t, dir))

	_, err = Open(t.TempDir())
	require.Error(t, err)
}
