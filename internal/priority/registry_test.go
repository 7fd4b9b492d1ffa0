package priority

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixed struct {
	name string
	p    int
}

func (f fixed) Priority(string) int { return f.p }

func TestSelectBestIgnoresOrder(t *testing.T) {
	perms := [][]int{
		{100, 500, -1, 1000},
		{1000, -1, 500, 100},
		{-1, 1000, 100, 500},
		{500, 100, 1000, -1},
	}
	for _, perm := range perms {
		r := New[string, fixed]()
		for _, p := range perm {
			r.Register(fixed{p: p})
		}
		best, ok := r.SelectBest("dir")
		require.True(t, ok)
		require.Equal(t, 100, best.p, "perm %v", perm)
	}
}

func TestSelectBestTieGoesToLatest(t *testing.T) {
	r := New[string, fixed](fixed{"first", 10}, fixed{"second", 10}, fixed{"worse", 20})
	best, ok := r.SelectBest("")
	require.True(t, ok)
	require.Equal(t, "second", best.name)
}

func TestSelectBestNoneWhenAllNegative(t *testing.T) {
	r := New[string, fixed](fixed{"a", -1}, fixed{"b", -5})
	_, ok := r.SelectBest("")
	require.False(t, ok)
	_, ok = New[string, fixed]().SelectBest("")
	require.False(t, ok)
}

func TestRankedIsStableAndDropsNegatives(t *testing.T) {
	r := New[string, fixed](fixed{"low", 1000}, fixed{"x", -1}, fixed{"high", 100}, fixed{"high2", 100})
	got := r.Ranked("")
	require.Len(t, got, 3)
	require.Equal(t, []string{"high", "high2", "low"}, []string{got[0].name, got[1].name, got[2].name})
	require.Equal(t, 4, r.Len())
}

func TestFirstSuccessfulStopsAtFirstHit(t *testing.T) {
	var tried []string
	cands := []fixed{{"err", 1}, {"empty", 2}, {"hit", 3}, {"never", 4}}
	res, err := FirstSuccessful(context.Background(), cands, func(_ context.Context, c fixed) (string, bool, error) {
		tried = append(tried, c.name)
		switch c.name {
		case "err":
			return "", false, errors.New("boom")
		case "empty":
			return "", false, nil
		default:
			return "from " + c.name, true, nil
		}
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, "from hit", res)
	require.Equal(t, []string{"err", "empty", "hit"}, tried)
}

func TestFirstSuccessfulFailsWhenNothingWorks(t *testing.T) {
	boom := errors.New("boom")
	_, err := FirstSuccessful(context.Background(), []fixed{{"a", 1}, {"b", 2}}, func(_ context.Context, c fixed) (int, bool, error) {
		if c.name == "a" {
			return 0, false, boom
		}
		return 0, false, nil
	}, nil)
	require.ErrorIs(t, err, ErrNoCandidate)
	require.ErrorIs(t, err, ErrAllFailed)
	require.ErrorIs(t, err, boom)

	_, err = FirstSuccessful(context.Background(), []fixed{{"a", 1}}, func(context.Context, fixed) (int, bool, error) { return 0, false, nil }, nil)
	require.ErrorIs(t, err, ErrNoCandidate)
	require.NotErrorIs(t, err, ErrAllFailed)

	_, err = FirstSuccessful(context.Background(), []fixed{}, func(context.Context, fixed) (int, bool, error) { return 1, true, nil }, nil)
	require.ErrorIs(t, err, ErrNoCandidate)
	require.NotErrorIs(t, err, ErrAllFailed)
}
