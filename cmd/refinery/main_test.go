package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, nil)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, out.String(), "refinery rebuild")

	out.Reset()
	require.NoError(t, run(context.Background(), &out, []string{"help"}))
	require.Contains(t, out.String(), "refinery serve")
}

func TestRunRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	for _, args := range [][]string{
		{"frobnicate"},
		{"rebuild"},
		{"rebuild", "not-a-coordinate"},
		{"rebuild", "-nope", "a:b:1"},
	} {
		err := run(context.Background(), &out, args)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr, "args %v", args)
		require.Equal(t, 2, exitErr.Code)
	}
}
